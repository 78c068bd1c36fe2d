// Package resolve builds chat and embedding providers from
// provider-agnostic configuration.
package resolve

import (
	"fmt"
	"log/slog"

	"github.com/nevindra/chunkindex"
	"github.com/nevindra/chunkindex/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a chat Provider.
type Config struct {
	Provider string // "openai", "groq", "deepseek", "together", "mistral", "ollama", "openrouter"
	APIKey   string
	Model    string
	BaseURL  string // required for unknown openai-compatible hosts; auto-filled for known providers

	// Common cross-provider options (nil = use provider default).
	Temperature *float64
	TopP        *float64
	MaxTokens   int

	Logger *slog.Logger
}

// EmbeddingConfig holds provider-agnostic configuration for creating an EmbeddingProvider.
type EmbeddingConfig struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int

	Logger *slog.Logger
}

// Provider creates a chunkindex.Provider from a provider-agnostic Config.
func Provider(cfg Config) (chunkindex.Provider, error) {
	baseURL, err := baseURLFor(cfg.Provider, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("resolve: provider %q needs a model", cfg.Provider)
	}

	provOpts := []openaicompat.ProviderOption{openaicompat.WithName(cfg.Provider)}
	if cfg.Logger != nil {
		provOpts = append(provOpts, openaicompat.WithLogger(cfg.Logger))
	}

	var reqOpts []openaicompat.Option
	if cfg.Temperature != nil {
		reqOpts = append(reqOpts, openaicompat.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		reqOpts = append(reqOpts, openaicompat.WithTopP(*cfg.TopP))
	}
	if cfg.MaxTokens > 0 {
		reqOpts = append(reqOpts, openaicompat.WithMaxTokens(cfg.MaxTokens))
	}
	if len(reqOpts) > 0 {
		provOpts = append(provOpts, openaicompat.WithOptions(reqOpts...))
	}
	return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL, provOpts...), nil
}

// EmbeddingProvider creates a chunkindex.EmbeddingProvider from a
// provider-agnostic EmbeddingConfig. Dimensions must be set: stores size
// their vector columns from it.
func EmbeddingProvider(cfg EmbeddingConfig) (chunkindex.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "groq", "deepseek":
		return nil, fmt.Errorf("resolve: embedding provider %q not supported", cfg.Provider)
	}
	baseURL, err := baseURLFor(cfg.Provider, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("resolve: embedding provider %q needs a model", cfg.Provider)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("resolve: embedding dimensions must be positive, got %d", cfg.Dimensions)
	}

	opts := []openaicompat.ProviderOption{openaicompat.WithName(cfg.Provider)}
	if cfg.Logger != nil {
		opts = append(opts, openaicompat.WithLogger(cfg.Logger))
	}
	return openaicompat.NewEmbedding(cfg.APIKey, cfg.Model, baseURL, cfg.Dimensions, opts...), nil
}

func baseURLFor(provider, explicit string) (string, error) {
	if provider == "" {
		return "", fmt.Errorf("resolve: unknown provider %q", provider)
	}
	if explicit != "" {
		return explicit, nil
	}
	if u := defaultBaseURL(provider); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("resolve: unknown provider %q (set base_url for custom openai-compatible hosts)", provider)
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
