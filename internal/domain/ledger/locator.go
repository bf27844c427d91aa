package ledger

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Placement is where the next row goes. When Insert is set the caller must free
// Row by moving the occupied rows from Row down by one, into the first free row
// returned by FreeRowFrom. Fallback means no free row was left above the footer.
type Placement struct {
	Row      int
	Insert   bool
	Fallback bool
}

var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var cellDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006/1/2",
	"2006-1-2",
	"2006.01.02",
	time.RFC3339,
}

// FooterBoundary returns the first row of the footer block, or 0 when the sheet
// has none. A label match wins; otherwise the first row with content that follows
// a row whose key columns are empty is the boundary.
func FooterBoundary(s Sheet, l Layout) int {
	maxRow := s.MaxRow()
	if row := labelBoundary(s, l, maxRow); row > 0 {
		return row
	}

	sawGap := false
	for row := l.DataStartRow; row <= maxRow; row++ {
		keyEmpty := keyColumnsEmpty(s, l, row)
		if sawGap && (!keyEmpty || hasLabelContent(s, l, row)) {
			return row
		}
		if keyEmpty {
			sawGap = true
		}
	}
	return 0
}

func labelBoundary(s Sheet, l Layout, maxRow int) int {
	if len(l.FooterLabels) == 0 {
		return 0
	}
	for row := l.DataStartRow; row <= maxRow; row++ {
		for _, col := range l.LabelColumns {
			value := strings.TrimSpace(s.Cell(row, col))
			if value == "" {
				continue
			}
			for _, label := range l.FooterLabels {
				if strings.EqualFold(value, label) {
					return row
				}
			}
		}
	}
	return 0
}

// NextWritableRow returns the first row at or after the data start whose key
// columns are all empty, stopping at the footer boundary. When every row above
// the footer is taken it falls back to inserting directly above the footer.
func NextWritableRow(s Sheet, l Layout) Placement {
	boundary := FooterBoundary(s, l)
	if boundary == 0 {
		last := lastOccupiedRow(s, l)
		if last < l.DataStartRow {
			return Placement{Row: l.DataStartRow}
		}
		return Placement{Row: last + 1}
	}

	for row := l.DataStartRow; row < boundary; row++ {
		if keyColumnsEmpty(s, l, row) {
			return Placement{Row: row}
		}
	}
	return Placement{Row: boundary, Insert: true, Fallback: true}
}

// ChronologicalPosition places a row dated d after the last row with the same or
// an earlier date and before the first strictly later one. It never goes past the
// footer boundary; a position at the boundary is an insertion that pushes the
// footer down.
func ChronologicalPosition(s Sheet, l Layout, d time.Time) Placement {
	target := truncateDay(d)
	boundary := FooterBoundary(s, l)
	end := boundary
	if end == 0 {
		end = s.MaxRow() + 1
	}

	lastDated := 0
	for row := l.DataStartRow; row < end; row++ {
		cellDate, ok := ParseCellDate(s.Cell(row, l.Columns.Date))
		if !ok {
			continue
		}
		if cellDate.After(target) {
			return Placement{Row: row, Insert: true}
		}
		lastDated = row
	}

	if lastDated == 0 {
		return NextWritableRow(s, l)
	}

	next := lastDated + 1
	if next < end && keyColumnsEmpty(s, l, next) {
		return Placement{Row: next}
	}
	if next > s.MaxRow() && boundary == 0 {
		return Placement{Row: next}
	}
	return Placement{Row: next, Insert: true}
}

// FreeRowFrom returns the first row at or after from whose key columns are
// empty. With a footer the search stops at its boundary and ok is false when
// every row up to it is taken. Without one a free row always exists.
func FreeRowFrom(s Sheet, l Layout, from int) (int, bool) {
	if from < l.DataStartRow {
		from = l.DataStartRow
	}
	boundary := FooterBoundary(s, l)
	if boundary == 0 {
		row := from
		for !keyColumnsEmpty(s, l, row) {
			row++
		}
		return row, true
	}
	for row := from; row < boundary; row++ {
		if keyColumnsEmpty(s, l, row) {
			return row, true
		}
	}
	return 0, false
}

// FindDuplicate scans the whole data region, footer included, for a row whose
// invoice column matches key after case normalization. An empty key never matches.
func FindDuplicate(s Sheet, l Layout, key string) (int, bool) {
	want := normalizeKey(key)
	if want == "" {
		return 0, false
	}
	maxRow := s.MaxRow()
	for row := l.DataStartRow; row <= maxRow; row++ {
		if normalizeKey(s.Cell(row, l.Columns.Invoice)) == want {
			return row, true
		}
	}
	return 0, false
}

// ParseCellDate reads a ledger date cell written as text or as an Excel serial
func ParseCellDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "=") {
		return time.Time{}, false
	}
	for _, layout := range cellDateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return truncateDay(t), true
		}
	}
	if serial, err := strconv.ParseFloat(value, 64); err == nil && serial >= 1 && serial < 2958466 {
		days := math.Floor(serial)
		return excelEpoch.AddDate(0, 0, int(days)), true
	}
	return time.Time{}, false
}

func keyColumnsEmpty(s Sheet, l Layout, row int) bool {
	for _, col := range l.KeyColumns {
		if strings.TrimSpace(s.Cell(row, col)) != "" {
			return false
		}
	}
	return true
}

func hasLabelContent(s Sheet, l Layout, row int) bool {
	for _, col := range l.LabelColumns {
		if strings.TrimSpace(s.Cell(row, col)) != "" {
			return true
		}
	}
	return false
}

func lastOccupiedRow(s Sheet, l Layout) int {
	for row := s.MaxRow(); row >= l.DataStartRow; row-- {
		if !keyColumnsEmpty(s, l, row) {
			return row
		}
	}
	return 0
}

func normalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
