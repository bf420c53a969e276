package review

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
)

const sheetName = "Review"

// ExportXLSX writes the snapshot as an Excel workbook and returns the number
// of rows. The header row is frozen and filterable.
func ExportXLSX(w io.Writer, rs recipe.ResultSet, opts ExportOptions) (int, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return 0, err
	}

	header := Header()
	if err := setRow(f, 1, header); err != nil {
		return 0, err
	}
	entries := selectEntries(rs, opts)
	for i, e := range entries {
		if err := setRow(f, i+2, row(e)); err != nil {
			return 0, fmt.Errorf("writing %s: %w", e.Judgment.ItemID, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return 0, err
	}
	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return 0, err
	}
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", bold); err != nil {
		return 0, err
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return 0, err
	}
	if err := f.AutoFilter(sheetName, fmt.Sprintf("A1:%s%d", lastCol, len(entries)+1), nil); err != nil {
		return 0, err
	}

	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("writing workbook: %w", err)
	}
	return len(entries), nil
}

func setRow(f *excelize.File, n int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return f.SetSheetRow(sheetName, cell, &cells)
}

// ImportXLSX reads an edited workbook. The first sheet is used.
func ImportXLSX(r io.Reader, opts ImportOptions) (*Import, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}
	return importRows(rows, opts)
}
