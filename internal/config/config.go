package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full application configuration. It is loaded once at startup
// and passed explicitly into the components that need it; nothing reads
// ambient global state after that.
type Config struct {
	Provider string       `mapstructure:"provider"`
	OpenAI   OpenAIConfig `mapstructure:"openai"`
	Local    LocalConfig  `mapstructure:"local"`
	Chat     ChatConfig   `mapstructure:"chat"`
	Tools    ToolsConfig  `mapstructure:"tools"`
	Debug    DebugConfig  `mapstructure:"debug"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"` // Optional, for compatible endpoints
}

// LocalConfig configures the studio's bundled inference gateway.
type LocalConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"` // Optional, sent as X-Api-Key
	Label   string `mapstructure:"label"`
}

// ChatConfig holds generation parameters and the context-budget policy.
type ChatConfig struct {
	SystemPrompt      string  `mapstructure:"system_prompt"`
	Temperature       float32 `mapstructure:"temperature"`
	TopP              float32 `mapstructure:"top_p"`
	MaxOutputTokens   int     `mapstructure:"max_output_tokens"`
	ContextLength     int     `mapstructure:"context_length"`      // Model context window in tokens
	ReservedTokens    int     `mapstructure:"reserved_tokens"`     // Headroom kept for the response
	MaxToolIterations int     `mapstructure:"max_tool_iterations"` // Tool rounds per user turn
	Retry             bool    `mapstructure:"retry"`               // Retry transient provider errors

	// Summarization policy.
	SummarizeThreshold float64 `mapstructure:"summarize_threshold"` // Utilization that triggers it
	KeepRecentMessages int     `mapstructure:"keep_recent_messages"`
}

// ToolsConfig locates the tool-server definitions.
type ToolsConfig struct {
	ServersFile string `mapstructure:"servers_file"` // Defaults to servers.json in the config dir
	CallTimeout int    `mapstructure:"call_timeout"` // Seconds per tool call
}

type DebugConfig struct {
	LogFile string `mapstructure:"log_file"` // JSONL event log; empty disables
}

// GetConfigDir returns the XDG config directory for scene-pilot.
func GetConfigDir() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "scene-pilot"), nil
}

// GetDataDir returns the XDG data directory for scene-pilot.
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "scene-pilot"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "scene-pilot"), nil
}

func Load() (*Config, error) {
	// .env is optional; env vars may already be set in the studio launcher.
	_ = godotenv.Load()

	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	setDefaults()

	// Config file is optional; defaults plus environment cover first runs.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Tools.ServersFile == "" {
		cfg.Tools.ServersFile = filepath.Join(configPath, "servers.json")
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("provider", "openai")
	viper.SetDefault("openai.model", "gpt-5.2")
	viper.SetDefault("local.base_url", "http://localhost:8823/v1")
	viper.SetDefault("local.label", "Studio Gateway")

	viper.SetDefault("chat.temperature", 0.7)
	viper.SetDefault("chat.max_output_tokens", 4096)
	viper.SetDefault("chat.context_length", 128000)
	viper.SetDefault("chat.reserved_tokens", 8192)
	viper.SetDefault("chat.max_tool_iterations", 10)
	viper.SetDefault("chat.retry", true)
	viper.SetDefault("chat.summarize_threshold", 0.8)
	viper.SetDefault("chat.keep_recent_messages", 6)

	viper.SetDefault("tools.call_timeout", 120)
}

// ApplyOverrides applies provider and model command-line overrides.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" && c.Provider == "openai" {
		c.OpenAI.Model = model
	}
}
