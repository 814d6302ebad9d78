package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestName(t *testing.T) {
	tests := []struct {
		name  string
		first string
		last  string
		want  string
	}{
		{
			name:  "already canonical",
			first: "mike",
			last:  "jackson",
			want:  "mike jackson",
		},
		{
			name:  "mixed case and padding",
			first: "  Michael ",
			last:  "\tJACKSON\n",
			want:  "michael jackson",
		},
		{
			name:  "internal whitespace is preserved",
			first: "Mary  Ann",
			last:  "van der  Berg",
			want:  "mary  ann van der  berg",
		},
		{
			name:  "empty last name keeps the separator",
			first: "Drake",
			last:  "",
			want:  "drake ",
		},
		{
			name:  "unicode lowercasing",
			first: "ÉLODIE",
			last:  "Dupont",
			want:  "élodie dupont",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Name(tt.first, tt.last))
			assert.Equal(t, tt.want, Key(Identity{First: tt.first, Last: tt.last}))
		})
	}
}

func TestNameIdempotent(t *testing.T) {
	inputs := []Identity{
		{First: "  Michael ", Last: "JACKSON"},
		{First: "Mary  Ann", Last: " van der Berg "},
		{First: "", Last: "Sting"},
		{First: "ÉLODIE", Last: "  Dupont"},
	}

	for _, id := range inputs {
		once := Name(id.First, id.Last)
		twice := Name(Field(id.First), Field(id.Last))
		assert.Equal(t, once, twice, "re-normalizing %q", once)
	}
}

func TestNormalizerFoldAccents(t *testing.T) {
	plain := Normalizer{}
	folding := Normalizer{FoldAccents: true}

	id := Identity{First: " Élodie ", Last: "Müller"}

	assert.Equal(t, "élodie müller", plain.Key(id))
	assert.Equal(t, "elodie muller", folding.Key(id))
	assert.Equal(t, folding.Key(id), folding.Name(folding.Field(id.First), folding.Field(id.Last)))
}

func TestNormalizerKeysPreservesOrder(t *testing.T) {
	ids := []Identity{
		{First: "B", Last: "b"},
		{First: "a", Last: "A"},
		{First: "B", Last: "b"},
	}

	assert.Equal(t, []string{"b b", "a a", "b b"}, Normalizer{}.Keys(ids))
}
