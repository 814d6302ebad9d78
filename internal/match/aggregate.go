package match

import (
	"fmt"
	"sort"
)

// Table is the final output: one row per distinct query, sorted by query
type Table struct {
	Rows []Result `json:"rows"`
}

// Aggregate merges the direct, fuzzy and unmatched streams. A query seen in
// more than one row is an error. Unmatched rows are reset to score 0 with no
// candidate; rows from the unmatched stream are always Unmatched.
func Aggregate(direct, fuzzy, unmatched []Result) (Table, error) {
	rows := make([]Result, 0, len(direct)+len(fuzzy)+len(unmatched))
	seen := make(map[string]string, cap(rows))

	add := func(stream string, r Result) error {
		if prev, dup := seen[r.Query]; dup {
			return fmt.Errorf("%w: %q in %s and %s results", ErrDuplicateQuery, r.Query, prev, stream)
		}
		seen[r.Query] = stream
		if r.Source == Unmatched {
			r = NewUnmatched(r.Query, r.Reason)
		}
		rows = append(rows, r)
		return nil
	}

	for _, r := range direct {
		if err := add("direct", r); err != nil {
			return Table{}, err
		}
	}
	for _, r := range fuzzy {
		if err := add("fuzzy", r); err != nil {
			return Table{}, err
		}
	}
	for _, r := range unmatched {
		r.Source = Unmatched
		if err := add("unmatched", r); err != nil {
			return Table{}, err
		}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Query < rows[j].Query })
	return Table{Rows: rows}, nil
}

// Len is the number of rows
func (t Table) Len() int {
	return len(t.Rows)
}

// Lookup finds the row for a query
func (t Table) Lookup(query string) (Result, bool) {
	i := sort.Search(len(t.Rows), func(i int) bool { return t.Rows[i].Query >= query })
	if i < len(t.Rows) && t.Rows[i].Query == query {
		return t.Rows[i], true
	}
	return Result{}, false
}

// Counts groups rows by source
func (t Table) Counts() map[Source]int {
	counts := make(map[Source]int, len(Sources))
	for _, r := range t.Rows {
		counts[r.Source]++
	}
	return counts
}
