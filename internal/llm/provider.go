package llm

import (
	"fmt"

	"github.com/solsticeworks/scene-pilot/internal/config"
)

// NewProvider creates the configured LLM provider.
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai API key not configured. Set OPENAI_API_KEY or add to config")
		}
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = defaultOpenAIBaseURL
		}
		return NewOpenAIProviderWithBaseURL(base, cfg.OpenAI.APIKey, cfg.OpenAI.Model), nil
	case "local":
		if cfg.Local.BaseURL == "" {
			return nil, fmt.Errorf("local provider requires local.base_url in config")
		}
		return NewLocalProvider(cfg.Local.BaseURL, cfg.Local.APIKey, cfg.Local.Label), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// chooseModel picks the per-request model override when present.
func chooseModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}
