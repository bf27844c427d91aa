// Package ledger holds the pure row-placement rules for month sheets of a ledger
// document. Nothing here touches a file; callers hand in a read-only Sheet view.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// MonthSheetLayout is the Go layout of a month sheet name
const MonthSheetLayout = "2006-01"

// Sheet is a read-only view of one worksheet. Rows and columns are 1-based.
// Cell returns the displayed value, or "=" followed by the formula when a
// formula cell has no cached value.
type Sheet interface {
	Cell(row, col int) string
	MaxRow() int
}

// Columns maps receipt fields onto 1-based column numbers. Zero means unused.
type Columns struct {
	Date        int
	Vendor      int
	Invoice     int
	Memo        int
	Total       int
	Tax10       int
	Tax8        int
	Counterpart int
}

// Layout describes the fixed shape of a month sheet
type Layout struct {
	DataStartRow int
	Columns      Columns
	// KeyColumns must all be empty for a row to be writable
	KeyColumns []int
	// LabelColumns are searched for FooterLabels
	LabelColumns []int
	FooterLabels []string
	// ComputedColumns hold formulas and are never written
	ComputedColumns []int
}

// DefaultLayout is the A-I layout shipped with the bundled templates
func DefaultLayout() Layout {
	return Layout{
		DataStartRow: 6,
		Columns: Columns{
			Date:        1,
			Vendor:      2,
			Invoice:     3,
			Memo:        4,
			Total:       5,
			Tax10:       6,
			Tax8:        7,
			Counterpart: 8,
		},
		KeyColumns:      []int{1, 2, 5},
		LabelColumns:    []int{1, 2},
		FooterLabels:    []string{"合計", "小計", "Total"},
		ComputedColumns: []int{9},
	}
}

// DataColumns returns every column the writer may set, in field order
func (l Layout) DataColumns() []int {
	c := l.Columns
	cols := make([]int, 0, 8)
	for _, col := range []int{c.Date, c.Vendor, c.Invoice, c.Memo, c.Total, c.Tax10, c.Tax8, c.Counterpart} {
		if col > 0 {
			cols = append(cols, col)
		}
	}
	return cols
}

// Validate checks the layout is usable and that no data column is a computed column
func (l Layout) Validate() error {
	if l.DataStartRow < 1 {
		return errors.New("data start row must be >= 1")
	}
	if l.Columns.Date < 1 || l.Columns.Invoice < 1 || l.Columns.Total < 1 {
		return errors.New("date, invoice and total columns are required")
	}
	if len(l.KeyColumns) == 0 {
		return errors.New("at least one key column is required")
	}
	computed := make(map[int]bool, len(l.ComputedColumns))
	for _, col := range l.ComputedColumns {
		computed[col] = true
	}
	seen := make(map[int]bool)
	for _, col := range l.DataColumns() {
		if computed[col] {
			return fmt.Errorf("column %d is both a data and a computed column", col)
		}
		if seen[col] {
			return fmt.Errorf("column %d is mapped to more than one field", col)
		}
		seen[col] = true
	}
	return nil
}

// MonthSheetName returns the sheet name that holds receipts dated d
func MonthSheetName(d time.Time) string {
	return d.Format(MonthSheetLayout)
}
