package ai

import (
	"fmt"
	"strings"

	"github.com/local/docconvert/internal/config"
)

// FromConfig returns the configured provider, or nil when correction is off.
func FromConfig(cfg config.CorrectorConfig) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none":
		return nil, nil
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic corrector: %w", ErrMissingKey)
		}
		return NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai corrector: %w", ErrMissingKey)
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("unknown corrector provider %q", cfg.Provider)
	}
}
