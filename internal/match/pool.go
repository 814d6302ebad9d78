package match

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/namelink/internal/normalize"
)

// Pool is the reference collection, deduplicated and indexed by key.
// Keys keep their first-occurrence order; that order breaks score ties.
type Pool struct {
	keys       []string
	index      map[string]int
	identities []normalize.Identity
}

// NewPool builds a pool from already normalized keys
func NewPool(keys []string) *Pool {
	p := &Pool{index: make(map[string]int, len(keys))}
	for _, key := range keys {
		p.add(key, normalize.Identity{})
	}
	return p
}

// NewPoolFromIdentities normalizes and deduplicates reference identities.
// The first identity seen for a key is the one reported on matches.
func NewPoolFromIdentities(ids []normalize.Identity, n normalize.Normalizer) *Pool {
	p := &Pool{index: make(map[string]int, len(ids))}
	for _, id := range ids {
		p.add(n.Key(id), id)
	}
	return p
}

func (p *Pool) add(key string, id normalize.Identity) {
	if _, exists := p.index[key]; exists {
		return
	}
	p.index[key] = len(p.keys)
	p.keys = append(p.keys, key)
	p.identities = append(p.identities, id)
}

// Len is the number of distinct keys
func (p *Pool) Len() int {
	return len(p.keys)
}

// At returns the key at position i
func (p *Pool) At(i int) string {
	return p.keys[i]
}

// Keys returns a copy of the keys in pool order
func (p *Pool) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Lookup finds a key's position
func (p *Pool) Lookup(key string) (int, bool) {
	i, ok := p.index[key]
	return i, ok
}

// Identity returns the reference record behind a key
func (p *Pool) Identity(key string) (normalize.Identity, bool) {
	i, ok := p.index[key]
	if !ok {
		return normalize.Identity{}, false
	}
	return p.identities[i], true
}

// result builds a matched row for pool position i
func (p *Pool) result(query string, i int, score float64, source Source) Result {
	id := p.identities[i]
	return Result{
		Query:      query,
		Candidate:  p.keys[i],
		Score:      score,
		Source:     source,
		MatchFirst: id.First,
		MatchLast:  id.Last,
	}
}

// Distinct drops repeated keys, keeping first occurrences in order
func Distinct(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// SplitExact resolves every query that equals a pool key. The remaining
// queries are returned distinct and in input order for fuzzy matching.
func SplitExact(queries []string, pool *Pool) (direct []Result, rest []string) {
	for _, q := range Distinct(queries) {
		if i, ok := pool.Lookup(q); ok {
			direct = append(direct, pool.result(q, i, 100, DirectJoin))
			continue
		}
		rest = append(rest, q)
	}
	return direct, rest
}

var validate = newValidator()

// newValidator reports fields by their json names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidateIdentities rejects records where both name fields are empty.
// side names the collection in the returned InputError.
func ValidateIdentities(side string, ids []normalize.Identity) error {
	for i := range ids {
		err := validate.Struct(ids[i])
		if err == nil {
			continue
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%s record %d: %w", side, i, err)
		}
		names := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			names = append(names, fe.Field())
		}
		sort.Strings(names)
		return &InputError{Side: side, Index: i, Field: strings.Join(names, "|")}
	}
	return nil
}

// Expand maps every raw query, duplicates included, back to its table row
func Expand(queries []string, table Table) []Result {
	out := make([]Result, 0, len(queries))
	for _, q := range queries {
		row, ok := table.Lookup(q)
		if !ok {
			row = NewUnmatched(q, "not processed")
		}
		out = append(out, row)
	}
	return out
}
