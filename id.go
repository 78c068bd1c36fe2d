package chunkindex

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// HashLen is the number of hex characters kept from the content digest.
const HashLen = 12

// NewRunID generates a globally unique, time-sortable UUIDv7 (RFC 9562) used
// to tag one ingest call in logs and traces.
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ContentHash returns the first HashLen hex characters of the MD5 digest of
// the NFC-normalised text. Canonically equivalent strings hash the same.
func ContentHash(text string) string {
	sum := md5.Sum([]byte(norm.NFC.String(text)))
	return hex.EncodeToString(sum[:])[:HashLen]
}

// ParentChunkID returns "parent_<hash>_<parentIdx>".
func ParentChunkID(text string, parentIdx int) string {
	return fmt.Sprintf("parent_%s_%d", ContentHash(text), parentIdx)
}

// ChildChunkID returns "child_<hash>_p<parentIdx>_c<childIdx>".
func ChildChunkID(text string, parentIdx, childIdx int) string {
	return fmt.Sprintf("child_%s_p%d_c%d", ContentHash(text), parentIdx, childIdx)
}
