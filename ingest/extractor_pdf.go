package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Compile-time interface checks.
var _ Extractor = (*PDFExtractor)(nil)
var _ PageExtractor = (*PDFExtractor)(nil)

// PDFExtractor implements Extractor and PageExtractor for PDF documents.
type PDFExtractor struct{}

// NewPDFExtractor creates a PDF extractor.
func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

// Extract returns the text of all pages separated by blank lines.
func (e *PDFExtractor) Extract(content []byte) (string, error) {
	pages, err := e.ExtractPages(content)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\n\n"), nil
}

// ExtractPages extracts text page by page. Pages without text are skipped
// but keep their original page numbers.
func (e *PDFExtractor) ExtractPages(content []byte) ([]PageText, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("empty PDF content")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	var pages []PageText
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, PageText{Number: i, Text: text})
	}
	return pages, nil
}
