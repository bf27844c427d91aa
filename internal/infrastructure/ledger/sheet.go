package ledger

import (
	"fmt"
	"strings"

	"github.com/garyjia/receipt-ledger/internal/domain/ledger"
	"github.com/xuri/excelize/v2"
)

// sheetView adapts one excelize worksheet to the read-only ledger.Sheet the
// row locator works on. Values are read raw so date serials stay parseable.
type sheetView struct {
	file   *excelize.File
	sheet  string
	rows   [][]string
	maxRow int
}

func newSheetView(f *excelize.File, sheet string) (*sheetView, error) {
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	maxRow := len(rows)
	if _, dimRows := usedRange(f, sheet); dimRows > maxRow {
		maxRow = dimRows
	}

	return &sheetView{file: f, sheet: sheet, rows: rows, maxRow: maxRow}, nil
}

func (v *sheetView) MaxRow() int {
	return v.maxRow
}

// Cell returns the raw value, or "=" and the formula text for a formula cell
// that carries no cached value.
func (v *sheetView) Cell(row, col int) string {
	if row < 1 || col < 1 || row > v.maxRow {
		return ""
	}
	if row <= len(v.rows) && col <= len(v.rows[row-1]) {
		if value := v.rows[row-1][col-1]; value != "" {
			return value
		}
	}

	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return ""
	}
	formula, err := v.file.GetCellFormula(v.sheet, cell)
	if err != nil || formula == "" {
		return ""
	}
	return "=" + formula
}

// usedRange returns the last column and row of the sheet's recorded dimension,
// or zeros when the workbook does not record one.
func usedRange(f *excelize.File, sheet string) (int, int) {
	dim, err := f.GetSheetDimension(sheet)
	if err != nil || dim == "" {
		return 0, 0
	}
	parts := strings.Split(dim, ":")
	col, row, err := excelize.CellNameToCoordinates(parts[len(parts)-1])
	if err != nil {
		return 0, 0
	}
	return col, row
}

var _ ledger.Sheet = (*sheetView)(nil)
