package ledger

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// cloneSheet creates dstSheet in dst as a copy of srcSheet in src: values,
// formulas, cell styles, column widths, row heights and merged ranges.
// excelize.CopySheet only works inside one workbook, so cells are copied one
// by one and styles are re-registered in the destination.
func cloneSheet(src *excelize.File, srcSheet string, dst *excelize.File, dstSheet string) error {
	if _, err := dst.NewSheet(dstSheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", dstSheet, err)
	}

	maxRow, maxCol, err := sheetExtent(src, srcSheet)
	if err != nil {
		return err
	}

	styles := make(map[int]int)
	for row := 1; row <= maxRow; row++ {
		if height, err := src.GetRowHeight(srcSheet, row); err == nil && height > 0 {
			if err := dst.SetRowHeight(dstSheet, row, height); err != nil {
				return fmt.Errorf("failed to set height of row %d: %w", row, err)
			}
		}
		for col := 1; col <= maxCol; col++ {
			cell, err := excelize.CoordinatesToCellName(col, row)
			if err != nil {
				return err
			}
			if err := copyCell(src, srcSheet, dst, dstSheet, cell, styles); err != nil {
				return err
			}
		}
	}

	for col := 1; col <= maxCol; col++ {
		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return err
		}
		width, err := src.GetColWidth(srcSheet, name)
		if err != nil {
			continue
		}
		if err := dst.SetColWidth(dstSheet, name, name, width); err != nil {
			return fmt.Errorf("failed to set width of column %s: %w", name, err)
		}
	}

	merged, err := src.GetMergeCells(srcSheet)
	if err != nil {
		return fmt.Errorf("failed to read merged cells: %w", err)
	}
	for _, mc := range merged {
		if err := dst.MergeCell(dstSheet, mc.GetStartAxis(), mc.GetEndAxis()); err != nil {
			return fmt.Errorf("failed to merge %s:%s: %w", mc.GetStartAxis(), mc.GetEndAxis(), err)
		}
	}

	return nil
}

func copyCell(src *excelize.File, srcSheet string, dst *excelize.File, dstSheet, cell string, styles map[int]int) error {
	formula, err := src.GetCellFormula(srcSheet, cell)
	if err != nil {
		return fmt.Errorf("failed to read formula at %s: %w", cell, err)
	}

	if formula != "" {
		if err := dst.SetCellFormula(dstSheet, cell, formula); err != nil {
			return fmt.Errorf("failed to set formula at %s: %w", cell, err)
		}
	} else if err := copyValue(src, srcSheet, dst, dstSheet, cell); err != nil {
		return err
	}

	styleID, err := src.GetCellStyle(srcSheet, cell)
	if err != nil || styleID == 0 {
		return nil
	}
	dstStyle, ok := styles[styleID]
	if !ok {
		style, err := src.GetStyle(styleID)
		if err != nil {
			return fmt.Errorf("failed to read style %d: %w", styleID, err)
		}
		if dstStyle, err = dst.NewStyle(style); err != nil {
			return fmt.Errorf("failed to register style %d: %w", styleID, err)
		}
		styles[styleID] = dstStyle
	}
	if err := dst.SetCellStyle(dstSheet, cell, cell, dstStyle); err != nil {
		return fmt.Errorf("failed to set style at %s: %w", cell, err)
	}
	return nil
}

func copyValue(src *excelize.File, srcSheet string, dst *excelize.File, dstSheet, cell string) error {
	value, err := src.GetCellValue(srcSheet, cell, excelize.Options{RawCellValue: true})
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", cell, err)
	}
	if value == "" {
		return nil
	}

	cellType, err := src.GetCellType(srcSheet, cell)
	if err != nil {
		return fmt.Errorf("failed to read type of %s: %w", cell, err)
	}

	switch cellType {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula:
		err = dst.SetCellStr(dstSheet, cell, value)
	case excelize.CellTypeBool:
		err = dst.SetCellBool(dstSheet, cell, value == "1" || value == "TRUE")
	default:
		if number, parseErr := strconv.ParseFloat(value, 64); parseErr == nil {
			err = dst.SetCellFloat(dstSheet, cell, number, -1, 64)
		} else {
			err = dst.SetCellStr(dstSheet, cell, value)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", cell, err)
	}
	return nil
}

// sheetExtent returns the last row and column of a sheet's used range
func sheetExtent(f *excelize.File, sheet string) (int, int, error) {
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	maxRow, maxCol := len(rows), 0
	for _, row := range rows {
		if len(row) > maxCol {
			maxCol = len(row)
		}
	}

	dimCol, dimRow := usedRange(f, sheet)
	if dimRow > maxRow {
		maxRow = dimRow
	}
	if dimCol > maxCol {
		maxCol = dimCol
	}

	return maxRow, maxCol, nil
}
