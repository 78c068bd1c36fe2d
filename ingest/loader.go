package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/nevindra/chunkindex"
)

// Loader turns raw bytes into a Document using the extractor registered for
// the content type.
type Loader struct {
	extractors map[ContentType]Extractor
	client     *http.Client
	userAgent  string
	maxBytes   int64
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithExtractor registers an Extractor for a given ContentType.
func WithExtractor(ct ContentType, e Extractor) LoaderOption {
	return func(l *Loader) { l.extractors[ct] = e }
}

// WithHTTPClient sets the client used by FetchURL (default: 15s timeout).
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) { l.client = c }
}

// WithMaxFetchBytes caps the response body read by FetchURL (default 10 MiB).
func WithMaxFetchBytes(n int64) LoaderOption {
	return func(l *Loader) { l.maxBytes = n }
}

// NewLoader creates a Loader with plain text, HTML, Markdown and PDF support.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		extractors: map[ContentType]Extractor{
			TypePlainText: PlainTextExtractor{},
			TypeHTML:      HTMLExtractor{},
			TypeMarkdown:  MarkdownExtractor{},
			TypePDF:       NewPDFExtractor(),
		},
		client:    &http.Client{Timeout: 15 * time.Second},
		userAgent: "Mozilla/5.0 (compatible; chunkindex/1.0)",
		maxBytes:  10 << 20,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LoadBytes extracts content named source, detecting the type from its extension.
func (l *Loader) LoadBytes(content []byte, source string) (chunkindex.Document, error) {
	return l.load(content, source, ContentTypeFromExtension(filepath.Ext(source)), nil)
}

// LoadReader reads all of r and extracts it like LoadBytes.
func (l *Loader) LoadReader(r io.Reader, source string) (chunkindex.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return chunkindex.Document{}, fmt.Errorf("read: %w", err)
	}
	return l.LoadBytes(data, source)
}

// LoadFile reads and extracts the file at path. The document source is the
// path as given.
func (l *Loader) LoadFile(path string) (chunkindex.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chunkindex.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return l.LoadBytes(data, path)
}

// FetchURL downloads rawURL and extracts it according to the response
// Content-Type. HTML is reduced to its readable article text.
func (l *Loader) FetchURL(ctx context.Context, rawURL string) (chunkindex.Document, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return chunkindex.Document{}, fmt.Errorf("invalid URL %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return chunkindex.Document{}, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", l.userAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return chunkindex.Document{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return chunkindex.Document{}, fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes))
	if err != nil {
		return chunkindex.Document{}, fmt.Errorf("read %s: %w", rawURL, err)
	}

	ct := ContentTypeFromMIME(resp.Header.Get("Content-Type"))
	if ct == TypePlainText {
		ct = ContentTypeFromExtension(filepath.Ext(parsed.Path))
	}
	return l.load(body, rawURL, ct, parsed)
}

func (l *Loader) load(content []byte, source string, ct ContentType, pageURL *url.URL) (chunkindex.Document, error) {
	doc := chunkindex.Document{Source: source}

	// The built-in HTML extractor resolves links against the fetched URL.
	if _, isDefault := l.extractors[ct].(HTMLExtractor); isDefault && ct == TypeHTML {
		doc.Pages = []chunkindex.Page{{Source: source, Text: extractHTML(content, pageURL)}}
		return doc, nil
	}

	extractor, ok := l.extractors[ct]
	if !ok {
		extractor = PlainTextExtractor{}
	}
	if pe, ok := extractor.(PageExtractor); ok {
		pages, err := pe.ExtractPages(content)
		if err != nil {
			return doc, fmt.Errorf("extract %s: %w", ct, err)
		}
		for i, p := range pages {
			if i > 0 {
				// Keep pages apart when their texts are concatenated.
				p.Text = "\n\n" + p.Text
			}
			doc.Pages = append(doc.Pages, chunkindex.Page{Source: source, Number: p.Number, Text: p.Text})
		}
		return doc, nil
	}

	text, err := extractor.Extract(content)
	if err != nil {
		return doc, fmt.Errorf("extract %s: %w", ct, err)
	}
	doc.Pages = []chunkindex.Page{{Source: source, Text: text}}
	return doc, nil
}
