package chunkindex

import (
	"math"
	"strconv"
)

// ParentRecord converts a parent chunk into a collection record without an embedding.
func ParentRecord(p ParentChunk) Record {
	return Record{
		ID:   p.ID,
		Text: p.Text,
		Metadata: map[string]string{
			MetaSource:      p.Source,
			MetaPage:        strconv.Itoa(p.PageNumber),
			MetaStartOffset: strconv.Itoa(p.StartOffset),
			MetaIndex:       strconv.Itoa(p.Index),
		},
	}
}

// ChildRecord converts a child chunk into a collection record.
func ChildRecord(c ChildChunk) Record {
	return Record{
		ID:        c.ID,
		Text:      c.Text,
		Embedding: c.Embedding,
		Metadata: map[string]string{
			MetaSource:      c.Source,
			MetaPage:        strconv.Itoa(c.PageNumber),
			MetaParentID:    c.ParentID,
			MetaStartOffset: strconv.Itoa(c.StartOffset),
			MetaIndex:       strconv.Itoa(c.Index),
		},
	}
}

// ParentFromRecord is the inverse of ParentRecord. Malformed numeric
// metadata decodes as zero.
func ParentFromRecord(r Record) ParentChunk {
	return ParentChunk{
		ID:          r.ID,
		Text:        r.Text,
		Source:      r.Metadata[MetaSource],
		PageNumber:  atoi(r.Metadata[MetaPage]),
		StartOffset: atoi(r.Metadata[MetaStartOffset]),
		Index:       atoi(r.Metadata[MetaIndex]),
	}
}

// ChildFromRecord is the inverse of ChildRecord.
func ChildFromRecord(r Record) ChildChunk {
	return ChildChunk{
		ID:          r.ID,
		ParentID:    r.Metadata[MetaParentID],
		Text:        r.Text,
		Source:      r.Metadata[MetaSource],
		PageNumber:  atoi(r.Metadata[MetaPage]),
		StartOffset: atoi(r.Metadata[MetaStartOffset]),
		Index:       atoi(r.Metadata[MetaIndex]),
		Embedding:   r.Embedding,
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// MatchFilters reports whether metadata satisfies every filter.
func MatchFilters(meta map[string]string, filters []Filter) bool {
	for _, f := range filters {
		if meta[f.Key] != f.Value {
			return false
		}
	}
	return true
}
