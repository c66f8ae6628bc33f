package llm

import (
	"fmt"

	"github.com/salesql/salesql/internal/config"
)

// New builds the model selected by cfg.Provider.
func New(cfg config.AIConfig) (Model, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropicModel(AnthropicConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			MaxRetries: 2,
		})
	case config.ProviderOpenAI:
		return NewOpenAIModel(OpenAIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}
