package ingest

import (
	"strings"
	"unicode/utf8"

	"github.com/nevindra/chunkindex"
)

// Splitter produces parent chunks from a document and child chunks from each
// parent's text.
type Splitter struct {
	Parent *RecursiveChunker
	Child  *RecursiveChunker
}

// NewSplitter returns a Splitter with the given parent and child size/overlap
// in characters.
func NewSplitter(parentSize, parentOverlap, childSize, childOverlap int) *Splitter {
	return &Splitter{
		Parent: NewRecursiveChunker(WithChunkSize(parentSize), WithChunkOverlap(parentOverlap)),
		Child:  NewRecursiveChunker(WithChunkSize(childSize), WithChunkOverlap(childOverlap)),
	}
}

// DefaultSplitter uses parents of 1000/200 and children of 100/20 characters.
func DefaultSplitter() *Splitter {
	return NewSplitter(1000, 200, 100, 20)
}

// Split cuts doc into parents and, for each parent, its children, with ids
// assigned. children[i] belongs to parents[i]. Each page is split on its own
// so no parent straddles a page break; parent indexes run across the whole
// document and StartOffset is relative to the concatenated page texts.
//
// Empty or whitespace-only documents yield no chunks and no error.
func (s *Splitter) Split(doc chunkindex.Document) ([]chunkindex.ParentChunk, [][]chunkindex.ChildChunk, error) {
	if err := s.Parent.Validate(); err != nil {
		return nil, nil, &chunkindex.SplitError{Source: doc.Source, Reason: "parent: " + err.Error()}
	}
	if err := s.Child.Validate(); err != nil {
		return nil, nil, &chunkindex.SplitError{Source: doc.Source, Reason: "child: " + err.Error()}
	}

	var (
		parents  []chunkindex.ParentChunk
		children [][]chunkindex.ChildChunk
		base     int
	)
	for _, page := range doc.Pages {
		if err := validateText(page.Text); err != "" {
			return nil, nil, &chunkindex.SplitError{Source: sourceOf(doc, page), Page: page.Number, Reason: err}
		}
		for _, span := range s.Parent.ChunkSpans(page.Text) {
			pidx := len(parents)
			p := chunkindex.ParentChunk{
				ID:          chunkindex.ParentChunkID(span.Text, pidx),
				Text:        span.Text,
				StartOffset: base + span.Start,
				Source:      sourceOf(doc, page),
				PageNumber:  page.Number,
				Index:       pidx,
			}
			parents = append(parents, p)
			children = append(children, s.splitParent(p))
		}
		base += utf8.RuneCountInString(page.Text)
	}
	return parents, children, nil
}

func (s *Splitter) splitParent(p chunkindex.ParentChunk) []chunkindex.ChildChunk {
	spans := s.Child.ChunkSpans(p.Text)
	out := make([]chunkindex.ChildChunk, len(spans))
	for cidx, span := range spans {
		out[cidx] = chunkindex.ChildChunk{
			ID:          chunkindex.ChildChunkID(span.Text, p.Index, cidx),
			ParentID:    p.ID,
			Text:        span.Text,
			StartOffset: span.Start,
			Source:      p.Source,
			PageNumber:  p.PageNumber,
			Index:       cidx,
		}
	}
	return out
}

func sourceOf(doc chunkindex.Document, page chunkindex.Page) string {
	if page.Source != "" {
		return page.Source
	}
	return doc.Source
}

// validateText returns a reason when text cannot be split, or "".
func validateText(text string) string {
	if !utf8.ValidString(text) {
		return "text is not valid UTF-8"
	}
	if strings.IndexByte(text, 0) >= 0 {
		return "text contains NUL bytes"
	}
	return ""
}
