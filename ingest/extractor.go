package ingest

import (
	"bytes"
	"html"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Extractor converts raw content to plain text.
type Extractor interface {
	Extract(content []byte) (string, error)
}

// PageExtractor is an optional capability for extractors whose sources have
// pages. If an Extractor also implements PageExtractor, the loader keeps one
// Page per returned entry, numbered from 1 in order.
type PageExtractor interface {
	ExtractPages(content []byte) ([]PageText, error)
}

// PageText is the text of one source page.
type PageText struct {
	Number int
	Text   string
}

// ContentType identifies the MIME type of content for extraction.
type ContentType string

const (
	TypePlainText ContentType = "text/plain"
	TypeHTML      ContentType = "text/html"
	TypeMarkdown  ContentType = "text/markdown"
	TypePDF       ContentType = "application/pdf"
)

// ContentTypeFromExtension maps file extensions to content types.
func ContentTypeFromExtension(ext string) ContentType {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "md", "markdown":
		return TypeMarkdown
	case "html", "htm":
		return TypeHTML
	case "pdf":
		return TypePDF
	default:
		return TypePlainText
	}
}

// ContentTypeFromMIME maps an HTTP Content-Type header to a content type.
func ContentTypeFromMIME(mime string) ContentType {
	mime = strings.ToLower(mime)
	switch {
	case strings.Contains(mime, "html"):
		return TypeHTML
	case strings.Contains(mime, "markdown"):
		return TypeMarkdown
	case strings.Contains(mime, "pdf"):
		return TypePDF
	default:
		return TypePlainText
	}
}

// --- Built-in extractors ---

// PlainTextExtractor returns content as-is.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(content []byte) (string, error) {
	return string(content), nil
}

// HTMLExtractor extracts the readable article body with go-readability and
// falls back to tag stripping when no article is found.
type HTMLExtractor struct{}

func (HTMLExtractor) Extract(content []byte) (string, error) {
	return extractHTML(content, nil), nil
}

var localBase = &url.URL{Scheme: "file", Path: "/"}

// extractHTML resolves relative links against pageURL, or a file:/ base when nil.
func extractHTML(content []byte, pageURL *url.URL) string {
	if pageURL == nil {
		pageURL = localBase
	}
	article, err := readability.FromReader(bytes.NewReader(content), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return collapseWhitespace(article.TextContent)
	}
	return StripHTML(string(content))
}

// MarkdownExtractor parses markdown with goldmark and keeps the text of every
// block, separated by blank lines so paragraph boundaries survive.
type MarkdownExtractor struct{}

func (MarkdownExtractor) Extract(content []byte) (string, error) {
	return markdownText(content), nil
}

var markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM)).Parser()

func markdownText(source []byte) string {
	doc := markdownParser.Parse(text.NewReader(source))
	var b strings.Builder

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
			return ast.WalkContinue, nil
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
			return ast.WalkContinue, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(source))
				}
				b.WriteString("\n\n")
			}
			return ast.WalkSkipChildren, nil
		}
		if !entering && n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
			_, isItem := n.(*ast.ListItem)
			_, inItem := n.Parent().(*ast.ListItem)
			switch {
			case isItem:
				b.WriteByte('\n')
			case inItem:
				if n.NextSibling() != nil {
					b.WriteByte('\n')
				}
			default:
				b.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})

	return collapseWhitespace(b.String())
}

// StripHTML removes HTML tags, scripts and styles, and decodes entities.
func StripHTML(content string) string {
	var result strings.Builder
	result.Grow(len(content))

	inTag := false
	inScript := false
	inStyle := false
	var tagName strings.Builder
	collectingTagName := false

	i := 0
	for i < len(content) {
		r, size := utf8.DecodeRuneInString(content[i:])

		if r == '<' {
			inTag = true
			tagName.Reset()
			collectingTagName = true
			i += size
			continue
		}

		if inTag {
			if collectingTagName {
				if unicode.IsSpace(r) || r == '>' || (r == '/' && tagName.Len() > 0) {
					collectingTagName = false
					lower := strings.ToLower(tagName.String())
					switch lower {
					case "script":
						inScript = true
					case "/script":
						inScript = false
					case "style":
						inStyle = true
					case "/style":
						inStyle = false
					}
					if isBlockTag(lower) {
						result.WriteString("\n\n")
					}
				} else {
					tagName.WriteRune(r)
				}
			}
			if r == '>' {
				inTag = false
			}
			i += size
			continue
		}

		if inScript || inStyle {
			i += size
			continue
		}

		if r == '&' {
			if decoded, skip := decodeEntity(content, i); skip > 0 {
				result.WriteString(decoded)
				i += skip
				continue
			}
		}

		result.WriteRune(r)
		i += size
	}

	return collapseWhitespace(result.String())
}

func isBlockTag(tag string) bool {
	switch strings.TrimPrefix(tag, "/") {
	case "p", "div", "br", "hr", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "ul", "ol", "table", "tr", "blockquote", "pre",
		"section", "article", "header", "footer", "nav", "main":
		return true
	}
	return false
}

// decodeEntity decodes the character reference starting at content[start].
// It returns the decoded text and the bytes consumed, or 0 when there is no
// well-formed reference. Non-breaking spaces become plain spaces.
func decodeEntity(content string, start int) (string, int) {
	if start >= len(content) || content[start] != '&' {
		return "", 0
	}
	end := min(start+maxEntityLen, len(content))
	for j := start + 1; j < end; j++ {
		ch := content[j]
		if ch == ';' {
			entity := content[start : j+1]
			decoded := html.UnescapeString(entity)
			if decoded == "\u00a0" {
				return " ", len(entity)
			}
			if decoded != entity {
				return decoded, len(entity)
			}
			return "", 0
		}
		if !((ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '#') {
			return "", 0
		}
	}
	return "", 0
}

// maxEntityLen covers the longest named reference,
// "&CounterClockwiseContourIntegral;".
const maxEntityLen = 34

// collapseWhitespace trims every line and keeps at most one blank line
// between text lines.
func collapseWhitespace(s string) string {
	var result strings.Builder
	emptyCount := 0

	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if result.Len() > 0 {
				emptyCount++
			}
			continue
		}
		if emptyCount > 0 {
			result.WriteString("\n\n")
		} else if result.Len() > 0 {
			result.WriteByte('\n')
		}
		result.WriteString(trimmed)
		emptyCount = 0
	}

	return strings.TrimSpace(result.String())
}
