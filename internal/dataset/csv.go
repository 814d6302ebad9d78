package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/namelink/internal/match"
	"github.com/namelink/internal/normalize"
)

// Output columns, in order
var Header = []string{
	"search_name_normalized",
	"match_name_normalized",
	"similarity_score",
	"mapping_source",
	"match_first_name",
	"match_last_name",
	"reason",
}

// UnmappedCandidate fills match_name_normalized on unmatched rows
const UnmappedCandidate = "unmapped"

// ReadIdentitiesFile reads a first/last name CSV from disk
func ReadIdentitiesFile(path string) ([]normalize.Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	ids, err := ReadIdentities(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ids, nil
}

// ReadIdentities reads a CSV with first_name and last_name columns. Header
// names are matched case-insensitively and "First Name" is accepted for
// first_name. Other columns are ignored. A missing column is a structural error.
func ReadIdentities(r io.Reader) ([]normalize.Identity, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = false

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file, expected a header", match.ErrStructuralInput)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	firstCol, lastCol := -1, -1
	for i, name := range header {
		switch headerKey(name) {
		case "first_name":
			firstCol = i
		case "last_name":
			lastCol = i
		}
	}
	if firstCol < 0 || lastCol < 0 {
		return nil, fmt.Errorf("%w: header %v must contain first_name and last_name",
			match.ErrStructuralInput, header)
	}

	var ids []normalize.Identity
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		if firstCol >= len(record) || lastCol >= len(record) {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d has %d columns", match.ErrStructuralInput, line, len(record))
		}
		ids = append(ids, normalize.Identity{First: record[firstCol], Last: record[lastCol]})
	}
	return ids, nil
}

// headerKey folds "First Name", "first_name" and a leading BOM to one form
func headerKey(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(strings.ReplaceAll(name, "_", " ")), "_")
}

// WriteTableFile writes the result table to path
func WriteTableFile(path string, table match.Table) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}

	if err := WriteTable(file, table); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteTable writes the header and one record per row
func WriteTable(w io.Writer, table match.Table) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range table.Rows {
		if err := writer.Write(Record(row)); err != nil {
			return fmt.Errorf("failed to write row %q: %w", row.Query, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// Record renders one row in Header order
func Record(row match.Result) []string {
	candidate := row.Candidate
	if !row.Matched() {
		candidate = UnmappedCandidate
	}
	return []string{
		row.Query,
		candidate,
		strconv.FormatFloat(row.Score, 'f', -1, 64),
		row.Source.String(),
		row.MatchFirst,
		row.MatchLast,
		row.Reason,
	}
}
