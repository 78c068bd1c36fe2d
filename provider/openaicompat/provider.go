package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nevindra/chunkindex"
)

// client holds what chat and embedding providers share: endpoint,
// credentials and HTTP plumbing.
type client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	name    string
	opts    []Option
	logger  *slog.Logger
}

func newClient(apiKey, baseURL string, opts []ProviderOption) client {
	c := client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 120 * time.Second},
		name:    "openai",
		logger:  chunkindex.NopLogger,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// post marshals body, sends it to baseURL+path and decodes a 200 response
// into out. Non-200 responses become *chunkindex.ErrHTTP.
func (c *client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &chunkindex.ErrLLM{Provider: c.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &chunkindex.ErrLLM{Provider: c.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.logger.Debug("provider request", "provider", c.name, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return c.httpErr(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &chunkindex.ErrLLM{Provider: c.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

// httpErr reads the response body and returns an ErrHTTP for retry middleware.
// Parses the Retry-After header when present (429/503 responses).
func (c *client) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &chunkindex.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: chunkindex.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// Provider implements chunkindex.Provider for any OpenAI-compatible API.
//
// Works with OpenAI, OpenRouter, Groq, Together, DeepSeek, Mistral, Ollama,
// vLLM, LM Studio and any other provider that implements the OpenAI chat
// completions API.
type Provider struct {
	client
	model string
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "http://localhost:11434/v1"). The /chat/completions path is appended
// automatically.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	return &Provider{client: newClient(apiKey, baseURL, opts), model: model}
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// Chat sends a chat completion request and returns the complete response.
func (p *Provider) Chat(ctx context.Context, req chunkindex.ChatRequest) (chunkindex.ChatResponse, error) {
	body := BuildBody(req.Messages, p.model, p.opts...)
	var resp ChatResponse
	if err := p.post(ctx, "/chat/completions", body, &resp); err != nil {
		return chunkindex.ChatResponse{}, err
	}
	return ParseResponse(p.name, resp)
}

// Compile-time interface check.
var _ chunkindex.Provider = (*Provider)(nil)
