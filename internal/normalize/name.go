package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Identity is a first/last name pair as read from a source collection
type Identity struct {
	First string `json:"first_name" validate:"required_without=Last"`
	Last  string `json:"last_name" validate:"required_without=First"`
}

// Field canonicalizes a single name field: trimmed, lowercased
func Field(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name builds the comparison key for a first/last pair.
// Each field is trimmed and lowercased on its own and the two are joined
// with a single space; internal whitespace is left as is.
func Name(first, last string) string {
	return Field(first) + " " + Field(last)
}

// Key is Name applied to an Identity
func Key(id Identity) string {
	return Name(id.First, id.Last)
}

// Normalizer turns identities into keys. The zero value applies Name unchanged.
type Normalizer struct {
	// FoldAccents strips combining marks after canonical decomposition (é -> e)
	FoldAccents bool
}

// Field canonicalizes a single field, folding accents when enabled
func (n Normalizer) Field(s string) string {
	s = Field(s)
	if !n.FoldAccents {
		return s
	}
	// transformers carry state, build one per call
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, s)
	if err != nil {
		return s
	}
	return folded
}

// Name builds the comparison key for a first/last pair
func (n Normalizer) Name(first, last string) string {
	return n.Field(first) + " " + n.Field(last)
}

// Key builds the comparison key for an Identity
func (n Normalizer) Key(id Identity) string {
	return n.Name(id.First, id.Last)
}

// Keys normalizes a collection, preserving order and duplicates
func (n Normalizer) Keys(ids []Identity) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = n.Key(id)
	}
	return keys
}
