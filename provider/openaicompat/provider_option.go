package openaicompat

import (
	"log/slog"
	"net/http"
)

// ProviderOption configures a Provider or an Embedding.
type ProviderOption func(*client)

// WithName sets the provider name returned by Name() (default "openai").
// Use this to distinguish providers in logs and observability.
func WithName(name string) ProviderOption {
	return func(c *client) { c.name = name }
}

// WithHTTPClient sets a custom HTTP client (e.g. for timeouts or proxies).
func WithHTTPClient(hc *http.Client) ProviderOption {
	return func(c *client) { c.http = hc }
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *slog.Logger) ProviderOption {
	return func(c *client) { c.logger = l }
}

// WithOptions appends request-level options (temperature, top_p, etc.)
// that are applied to every chat request. Ignored by Embedding.
func WithOptions(opts ...Option) ProviderOption {
	return func(c *client) { c.opts = append(c.opts, opts...) }
}
