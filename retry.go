package chunkindex

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryConfig holds the settings shared by the chat and embedding retry wrappers.
type retryConfig struct {
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // overall timeout across all attempts; 0 = no limit
	logger      *slog.Logger
}

// RetryOption configures WithRetry and WithEmbeddingRetry.
type RetryOption func(*retryConfig)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(c *retryConfig) { c.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt (default: 1s).
// Each subsequent delay doubles.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.baseDelay = d }
}

// RetryTimeout bounds the whole retry sequence. Zero disables the bound.
func RetryTimeout(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.timeout = d }
}

// RetryLogger sets the logger for retry events. Retries log at WARN and
// exhausted sequences at ERROR.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(c *retryConfig) { c.logger = l }
}

func newRetryConfig(opts []RetryOption) retryConfig {
	c := retryConfig{maxAttempts: 3, baseDelay: time.Second}
	for _, opt := range opts {
		opt(&c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	return c
}

// withTimeout returns a child context with a deadline if c.timeout is set and
// earlier than any existing deadline. The caller must call the CancelFunc.
func (c retryConfig) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	deadline := time.Now().Add(c.timeout)
	if existing, ok := ctx.Deadline(); ok && existing.Before(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}

// retryProvider wraps a Provider and retries transient HTTP errors
// (429 Too Many Requests, 503 Service Unavailable) with exponential backoff.
type retryProvider struct {
	inner Provider
	cfg   retryConfig
}

// WithRetry wraps p with automatic retry on transient HTTP errors (429, 503).
// When the error carries a Retry-After duration the delay is at least that long.
//
//	llm = chunkindex.WithRetry(openaicompat.NewProvider(key, model, baseURL))
//	llm = chunkindex.WithRetry(llm, chunkindex.RetryMaxAttempts(5))
func WithRetry(p Provider, opts ...RetryOption) Provider {
	return &retryProvider{inner: p, cfg: newRetryConfig(opts)}
}

func (r *retryProvider) Name() string { return r.inner.Name() }

func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	ctx, cancel := r.cfg.withTimeout(ctx)
	defer cancel()
	return retryCall(ctx, r.cfg, r.inner.Name(), func() (ChatResponse, error) {
		return r.inner.Chat(ctx, req)
	})
}

// retryEmbeddingProvider is the EmbeddingProvider counterpart of retryProvider.
type retryEmbeddingProvider struct {
	inner EmbeddingProvider
	cfg   retryConfig
}

// WithEmbeddingRetry wraps p with automatic retry on transient HTTP errors (429, 503).
// Accepts the same RetryOption functions as WithRetry.
func WithEmbeddingRetry(p EmbeddingProvider, opts ...RetryOption) EmbeddingProvider {
	return &retryEmbeddingProvider{inner: p, cfg: newRetryConfig(opts)}
}

func (r *retryEmbeddingProvider) Name() string    { return r.inner.Name() }
func (r *retryEmbeddingProvider) Dimensions() int { return r.inner.Dimensions() }

func (r *retryEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := r.cfg.withTimeout(ctx)
	defer cancel()
	return retryCall(ctx, r.cfg, r.inner.Name(), func() ([][]float32, error) {
		return r.inner.Embed(ctx, texts)
	})
}

// isTransient reports whether err is a retryable HTTP error (429 or 503).
func isTransient(err error) bool {
	var e *ErrHTTP
	return errors.As(err, &e) && (e.Status == 429 || e.Status == 503)
}

// statusOf extracts the HTTP status code from an ErrHTTP, or 0.
func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryAfterOf extracts the Retry-After duration from an ErrHTTP, or 0.
func retryAfterOf(err error) time.Duration {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// retryDelay is max(backoff, retryAfter) for attempt i.
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	if ra := retryAfterOf(err); ra > backoff {
		return ra
	}
	return backoff
}

// retryCall calls fn up to cfg.maxAttempts times, sleeping between transient failures.
func retryCall[T any](ctx context.Context, cfg retryConfig, name string, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	for i := 0; i < cfg.maxAttempts; i++ {
		result, err := fn()
		if err == nil || !isTransient(err) {
			return result, err
		}
		last = err
		cfg.logger.Warn("retrying transient error",
			"provider", name,
			"status", statusOf(err),
			"attempt", i+1,
			"max_attempts", cfg.maxAttempts)
		if i < cfg.maxAttempts-1 {
			timer := time.NewTimer(retryDelay(cfg.baseDelay, i, err))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	cfg.logger.Error("all retry attempts exhausted",
		"provider", name,
		"attempts", cfg.maxAttempts,
		"error", last)
	return zero, last
}

// retryBackoff returns base * 2^i plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

// compile-time checks
var (
	_ Provider          = (*retryProvider)(nil)
	_ EmbeddingProvider = (*retryEmbeddingProvider)(nil)
)
