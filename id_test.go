package chunkindex

import (
	"regexp"
	"testing"
)

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == b {
		t.Error("expected unique ids")
	}
	if len(a) != 36 {
		t.Errorf("len = %d, want 36", len(a))
	}
}

func TestContentHash(t *testing.T) {
	h := ContentHash("hello world")
	if len(h) != HashLen {
		t.Fatalf("len = %d, want %d", len(h), HashLen)
	}
	// md5("hello world") = 5eb63bbbe01eeed093cb22bb8f5acdc3
	if h != "5eb63bbbe01e" {
		t.Errorf("ContentHash = %q", h)
	}
	if ContentHash("hello world") != h {
		t.Error("hash not deterministic")
	}
	if ContentHash("hello world!") == h {
		t.Error("different content produced same hash")
	}
}

func TestContentHashNormalizesNFC(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"
	if ContentHash(composed) != ContentHash(decomposed) {
		t.Error("canonically equivalent strings hashed differently")
	}
}

func TestChunkIDFormat(t *testing.T) {
	parentRe := regexp.MustCompile(`^parent_[0-9a-f]{12}_3$`)
	childRe := regexp.MustCompile(`^child_[0-9a-f]{12}_p3_c7$`)

	if id := ParentChunkID("some text", 3); !parentRe.MatchString(id) {
		t.Errorf("ParentChunkID = %q", id)
	}
	if id := ChildChunkID("some text", 3, 7); !childRe.MatchString(id) {
		t.Errorf("ChildChunkID = %q", id)
	}
}

func TestChunkIDPositionDisambiguates(t *testing.T) {
	if ParentChunkID("same", 0) == ParentChunkID("same", 1) {
		t.Error("identical text at different positions must get different ids")
	}
	if ChildChunkID("same", 0, 1) == ChildChunkID("same", 1, 0) {
		t.Error("child ids must include both parent and child index")
	}
}
