package toolserver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the servers.json (or servers.yaml) configuration file.
type Config struct {
	Servers map[string]ServerConfig `json:"servers" yaml:"servers"`
}

// ServerConfig describes one configured tool server. Stdio servers run a
// subprocess (Command/Args); url-configured servers are reached over HTTP.
type ServerConfig struct {
	// Type discriminator: "stdio" (default if command present) or "http"
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// Stdio transport fields
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	Dir     string   `json:"dir,omitempty" yaml:"dir,omitempty"`

	// HTTP transport fields
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Shared fields
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// TransportType returns the effective transport type for this server.
func (c *ServerConfig) TransportType() string {
	if c.Type == "http" || c.URL != "" {
		return "http"
	}
	return "stdio"
}

// Validate checks that the server configuration is usable.
func (c *ServerConfig) Validate() error {
	if c.TransportType() == "http" {
		if c.URL == "" {
			return fmt.Errorf("http transport requires url")
		}
		if c.Command != "" {
			return fmt.Errorf("cannot specify both url and command")
		}
		return nil
	}
	if c.Command == "" {
		return fmt.Errorf("stdio transport requires command")
	}
	if c.URL != "" {
		return fmt.Errorf("cannot specify both url and command")
	}
	return nil
}

// Vars are the placeholder values available to server definitions, resolved
// once at load time (never per call).
type Vars map[string]string

// DefaultVars returns the standard placeholder set.
func DefaultVars(installRoot, workspace string) Vars {
	return Vars{
		"INSTALL_ROOT": installRoot,
		"WORKSPACE":    workspace,
	}
}

// expand substitutes ${NAME} placeholders from vars, then from the process
// environment.
func (v Vars) expand(s string) string {
	return os.Expand(s, func(name string) string {
		if val, ok := v[name]; ok {
			return val
		}
		return os.Getenv(name)
	})
}

// Expand applies placeholder substitution to every string field of cfg.
func (v Vars) Expand(cfg ServerConfig) ServerConfig {
	out := cfg
	out.Command = v.expand(cfg.Command)
	out.Dir = v.expand(cfg.Dir)
	out.URL = v.expand(cfg.URL)
	if len(cfg.Args) > 0 {
		out.Args = make([]string, len(cfg.Args))
		for i, a := range cfg.Args {
			out.Args[i] = v.expand(a)
		}
	}
	if len(cfg.Env) > 0 {
		out.Env = make(map[string]string, len(cfg.Env))
		for k, val := range cfg.Env {
			out.Env[k] = v.expand(val)
		}
	}
	if len(cfg.Headers) > 0 {
		out.Headers = make(map[string]string, len(cfg.Headers))
		for k, val := range cfg.Headers {
			out.Headers[k] = v.expand(val)
		}
	}
	return out
}

// LoadConfig reads server definitions from a JSON or YAML file, applying
// placeholder expansion. A missing file yields an empty configuration.
func LoadConfig(path string, vars Vars) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Servers: make(map[string]ServerConfig)}, nil
		}
		return nil, err
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]ServerConfig)
	}

	for name, sc := range cfg.Servers {
		expanded := vars.Expand(sc)
		if err := expanded.Validate(); err != nil {
			return nil, fmt.Errorf("server %s: %w", name, err)
		}
		cfg.Servers[name] = expanded
	}
	return &cfg, nil
}

// ServerNames returns the configured server names.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	return names
}
