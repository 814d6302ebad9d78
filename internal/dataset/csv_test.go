package dataset

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelink/internal/match"
	"github.com/namelink/internal/normalize"
)

func TestReadIdentities(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []normalize.Identity
	}{
		{
			name:  "snake case header",
			input: "first_name,last_name\nMichael,Jackson\nDrake,\n",
			want:  []normalize.Identity{{First: "Michael", Last: "Jackson"}, {First: "Drake"}},
		},
		{
			name:  "title case header with extra columns",
			input: "id,Last Name,First Name\n1, Jackson ,Mike\n",
			want:  []normalize.Identity{{First: "Mike", Last: " Jackson "}},
		},
		{
			name:  "byte order mark",
			input: "\ufefffirst_name,last_name\nSting,\n",
			want:  []normalize.Identity{{First: "Sting"}},
		},
		{
			name:  "header only",
			input: "first_name,last_name\n",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadIdentities(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadIdentitiesStructuralErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty file", ""},
		{"missing last name column", "first_name,surname\nMike,Jackson\n"},
		{"short record", "first_name,last_name\nMike\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadIdentities(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, match.ErrStructuralInput)
		})
	}
}

func TestWriteTable(t *testing.T) {
	table, err := match.Aggregate(
		[]match.Result{{Query: "drake ", Candidate: "drake ", Score: 100, Source: match.DirectJoin, MatchFirst: "Drake"}},
		[]match.Result{{Query: "michael jackson", Candidate: "mike jackson", Score: 73.5, Source: match.FuzzyBaseline, MatchFirst: "Mike", MatchLast: "Jackson"}},
		[]match.Result{{Query: "nobody special", Reason: "best score 21.00 below cutoff 70.00"}},
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, table))

	want := strings.Join([]string{
		"search_name_normalized,match_name_normalized,similarity_score,mapping_source,match_first_name,match_last_name,reason",
		"drake ,drake ,100,direct_join,Drake,,",
		"michael jackson,mike jackson,73.5,fuzzy_matching_baseline,Mike,Jackson,",
		"nobody special,unmapped,0,unmapped,,,best score 21.00 below cutoff 70.00",
	}, "\n") + "\n"
	assert.Equal(t, want, buf.String())
}

func TestTableFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	table := match.Table{Rows: []match.Result{{Query: "a b", Candidate: "a c", Score: 80, Source: match.FuzzyBatch}}}

	require.NoError(t, WriteTableFile(path, table))

	_, err := ReadIdentitiesFile(path)
	assert.ErrorIs(t, err, match.ErrStructuralInput, "result files have no first/last columns")

	_, err = ReadIdentitiesFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
