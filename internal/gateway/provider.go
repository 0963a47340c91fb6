package gateway

import (
	"context"
	"fmt"
	"net/http"
)

// Providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderNone   = "none"
)

// ProviderConfig selects and configures the model backend.
type ProviderConfig struct {
	Provider      string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	GeminiAPIKey  string
	GeminiModel   string
}

// NewTransport builds the transport for cfg.Provider. ProviderNone yields a
// nil transport, which disables generation.
func NewTransport(ctx context.Context, cfg ProviderConfig, httpClient *http.Client) (Transport, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		c, err := NewOpenAIClient(OpenAIConfig{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
		}, httpClient)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		return c, nil
	case ProviderGemini:
		c, err := NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		return c, nil
	case ProviderNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
