package chunkindex

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a non-2xx response from a provider API. RetryAfter is parsed
// from the Retry-After header when present.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter reads a Retry-After header value given either as seconds
// or as an HTTP date. Unparseable or past values yield 0.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// SplitError reports text the splitter cannot process.
type SplitError struct {
	Source string
	Page   int
	Reason string
}

func (e *SplitError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("split %s (page %d): %s", e.Source, e.Page, e.Reason)
	}
	if e.Source != "" {
		return fmt.Sprintf("split %s: %s", e.Source, e.Reason)
	}
	return "split: " + e.Reason
}

// ProviderError wraps an embedding or completion failure. ChunkID names the
// first chunk of the batch being processed, if any.
type ProviderError struct {
	Provider string
	ChunkID  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.ChunkID != "" {
		return fmt.Sprintf("provider %s: chunk %s: %v", e.Provider, e.ChunkID, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StorageError wraps a collection failure. ParentsWritten and ChildrenWritten
// count the records persisted by the failing call before it stopped.
type StorageError struct {
	Collection      string
	Op              string
	ParentsWritten  int
	ChildrenWritten int
	Err             error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s (parents written %d, children written %d): %v",
		e.Op, e.Collection, e.ParentsWritten, e.ChildrenWritten, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
