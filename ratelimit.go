package chunkindex

import (
	"context"
	"sync"
	"time"
)

// limiter is a sliding one-minute window over request timestamps and token counts.
type limiter struct {
	mu sync.Mutex

	rpm       int
	rpmWindow []time.Time

	tpm       int
	tpmWindow []tpmEntry
}

type tpmEntry struct {
	at     time.Time
	tokens int
}

// RateLimitOption configures WithRateLimit and WithEmbeddingRateLimit.
type RateLimitOption func(*limiter)

// RPM sets the maximum requests per minute.
func RPM(n int) RateLimitOption {
	return func(l *limiter) { l.rpm = n }
}

// TPM sets the maximum tokens per minute. For chat providers the count comes
// from ChatResponse.Usage; for embedding providers it is estimated as one
// token per four bytes of input. This is a soft limit: the request that
// crosses the budget completes and later requests wait.
func TPM(n int) RateLimitOption {
	return func(l *limiter) { l.tpm = n }
}

func newLimiter(opts []RateLimitOption) *limiter {
	l := &limiter{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// wait blocks until both budgets allow a request, or ctx ends.
func (l *limiter) wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-time.Minute)
		l.rpmWindow = pruneTime(l.rpmWindow, cutoff)
		l.tpmWindow = pruneTpm(l.tpmWindow, cutoff)

		rpmOK := l.rpm <= 0 || len(l.rpmWindow) < l.rpm
		tpmOK := true
		if l.tpm > 0 {
			var total int
			for _, e := range l.tpmWindow {
				total += e.tokens
			}
			tpmOK = total < l.tpm
		}

		if rpmOK && tpmOK {
			if l.rpm > 0 {
				l.rpmWindow = append(l.rpmWindow, now)
			}
			l.mu.Unlock()
			return nil
		}

		// Wait until the oldest entry of the blocking window expires.
		var wait time.Duration
		if !rpmOK && len(l.rpmWindow) > 0 {
			wait = l.rpmWindow[0].Add(time.Minute).Sub(now)
		}
		if !tpmOK && len(l.tpmWindow) > 0 {
			w := l.tpmWindow[0].at.Add(time.Minute).Sub(now)
			if wait == 0 || w < wait {
				wait = w
			}
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *limiter) record(tokens int) {
	if l.tpm <= 0 || tokens <= 0 {
		return
	}
	l.mu.Lock()
	l.tpmWindow = append(l.tpmWindow, tpmEntry{at: time.Now(), tokens: tokens})
	l.mu.Unlock()
}

// pruneTime removes entries older than cutoff from a sorted time slice.
func pruneTime(s []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(s) && s[i].Before(cutoff) {
		i++
	}
	return s[i:]
}

// pruneTpm removes entries older than cutoff from a sorted tpmEntry slice.
func pruneTpm(s []tpmEntry, cutoff time.Time) []tpmEntry {
	i := 0
	for i < len(s) && s[i].at.Before(cutoff) {
		i++
	}
	return s[i:]
}

type rateLimitProvider struct {
	inner Provider
	lim   *limiter
}

// WithRateLimit wraps p with proactive rate limiting:
//
//	llm = chunkindex.WithRateLimit(chunkindex.WithRetry(p), chunkindex.RPM(60))
func WithRateLimit(p Provider, opts ...RateLimitOption) Provider {
	return &rateLimitProvider{inner: p, lim: newLimiter(opts)}
}

func (r *rateLimitProvider) Name() string { return r.inner.Name() }

func (r *rateLimitProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := r.lim.wait(ctx); err != nil {
		return ChatResponse{}, err
	}
	resp, err := r.inner.Chat(ctx, req)
	if err == nil {
		r.lim.record(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	}
	return resp, err
}

type rateLimitEmbeddingProvider struct {
	inner EmbeddingProvider
	lim   *limiter
}

// WithEmbeddingRateLimit wraps an embedding provider with proactive rate
// limiting. Each Embed call counts as one request.
func WithEmbeddingRateLimit(p EmbeddingProvider, opts ...RateLimitOption) EmbeddingProvider {
	return &rateLimitEmbeddingProvider{inner: p, lim: newLimiter(opts)}
}

func (r *rateLimitEmbeddingProvider) Name() string    { return r.inner.Name() }
func (r *rateLimitEmbeddingProvider) Dimensions() int { return r.inner.Dimensions() }

func (r *rateLimitEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.lim.wait(ctx); err != nil {
		return nil, err
	}
	vecs, err := r.inner.Embed(ctx, texts)
	if err == nil {
		var n int
		for _, t := range texts {
			n += len(t)
		}
		r.lim.record(n / 4)
	}
	return vecs, err
}

// compile-time checks
var (
	_ Provider          = (*rateLimitProvider)(nil)
	_ EmbeddingProvider = (*rateLimitEmbeddingProvider)(nil)
)
