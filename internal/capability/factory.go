package capability

import (
	"context"
	"fmt"
	"os"

	"ecosim/internal/config"
	"ecosim/internal/logging"
)

// NewClientFromConfig creates a capability client for the configured
// provider. An empty API key falls back to environment variables, and an
// unconfigured provider falls back to the deterministic stub so the
// pipeline always has something to call.
func NewClientFromConfig(ctx context.Context, cfg config.CapabilityConfig) (Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = detectAPIKey(cfg.Provider)
	}

	switch cfg.Provider {
	case "gemini":
		return NewGeminiClient(ctx, apiKey)

	case "openai":
		c := DefaultOpenAIConfig(apiKey)
		if cfg.BaseURL != "" {
			c.BaseURL = cfg.BaseURL
		}
		c.Timeout = config.ParseTimeout(cfg.Timeout, c.Timeout)
		return NewOpenAIClientWithConfig(c), nil

	case "anthropic":
		c := DefaultAnthropicConfig(apiKey)
		if cfg.BaseURL != "" {
			c.BaseURL = cfg.BaseURL
		}
		c.Timeout = config.ParseTimeout(cfg.Timeout, c.Timeout)
		return NewAnthropicClientWithConfig(c), nil

	case "stub", "":
		logging.API("capability provider is stub; running offline")
		return NewStubClient(), nil

	default:
		return nil, fmt.Errorf("unknown capability provider: %s", cfg.Provider)
	}
}

// detectAPIKey checks the conventional environment variables for the
// provider, with ECOSIM_API_KEY as the generic override.
func detectAPIKey(provider string) string {
	if key := os.Getenv("ECOSIM_API_KEY"); key != "" {
		return key
	}
	switch provider {
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}
