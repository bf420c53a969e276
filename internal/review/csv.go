package review

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
)

// ExportCSV writes the snapshot as CSV and returns the number of rows.
func ExportCSV(w io.Writer, rs recipe.ResultSet, opts ExportOptions) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return 0, fmt.Errorf("writing header: %w", err)
	}
	entries := selectEntries(rs, opts)
	for _, e := range entries {
		if err := cw.Write(row(e)); err != nil {
			return 0, fmt.Errorf("writing %s: %w", e.Judgment.ItemID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// ImportCSV reads an edited CSV snapshot.
func ImportCSV(r io.Reader, opts ImportOptions) (*Import, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	return importRows(records, opts)
}
