package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/domain/entity"
	"github.com/garyjia/receipt-ledger/internal/domain/ledger"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// CellDateLayout is how receipt dates are written into the date column
const CellDateLayout = "2006/01/02"

// PlacementMode selects where a new row goes in a month sheet
type PlacementMode int

const (
	// PlaceAppend writes into the first free row above the footer
	PlaceAppend PlacementMode = iota
	// PlaceChronological keeps rows ordered by receipt date
	PlaceChronological
)

// WriterConfig wires one ledger writer
type WriterConfig struct {
	Target  string
	Mode    PlacementMode
	Layout  ledger.Layout
	Gateway *Gateway
	Locker  port.DocumentLocker
	Roster  port.RosterProvider
	Backups *BackupRotator
	// Mirror receives a best-effort copy of every saved document. Optional.
	Mirror port.ArtifactStore
}

// Writer implements port.LedgerWriter for one ledger kind. The location ledger
// is keyed by business location and appends; the staff ledger is keyed by
// staff id and inserts chronologically.
type Writer struct {
	cfg    WriterConfig
	logger *zap.Logger
}

// NewWriter creates a Writer after checking its layout
func NewWriter(cfg WriterConfig, logger *zap.Logger) (*Writer, error) {
	if cfg.Target != entity.TargetLocation && cfg.Target != entity.TargetStaff {
		return nil, fmt.Errorf("unknown ledger target %q", cfg.Target)
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s ledger layout: %w", cfg.Target, err)
	}
	if cfg.Gateway == nil || cfg.Locker == nil || cfg.Backups == nil {
		return nil, errors.New("ledger writer needs a gateway, a locker and a backup rotator")
	}
	return &Writer{cfg: cfg, logger: logger}, nil
}

// Target returns the ledger kind, "location" or "staff"
func (w *Writer) Target() string {
	return w.cfg.Target
}

// CheckTemplate reports whether the writer's template is usable
func (w *Writer) CheckTemplate() error {
	return w.cfg.Gateway.CheckTemplate()
}

// Write writes one receipt
func (w *Writer) Write(ctx context.Context, receipt entity.Receipt, opts port.WriteOptions) (port.LedgerWriteResult, error) {
	results, err := w.WriteBatch(ctx, []port.LedgerWriteRequest{{Receipt: receipt}}, opts)
	if err != nil {
		return port.LedgerWriteResult{Target: w.cfg.Target, Status: entity.LedgerStatusError, Detail: err.Error()}, err
	}
	return results[0], nil
}

// WriteBatch writes every request, grouping them by destination document so
// each document is locked, opened and saved once. Results are index-aligned
// with requests. The error return is reserved for an unusable writer, such
// as a missing template; everything else is reported per item.
func (w *Writer) WriteBatch(ctx context.Context, requests []port.LedgerWriteRequest, opts port.WriteOptions) ([]port.LedgerWriteResult, error) {
	if err := w.cfg.Gateway.CheckTemplate(); err != nil {
		w.logger.Error("Ledger writer unavailable",
			zap.String("target", w.cfg.Target),
			zap.Error(err))
		return nil, &entity.LedgerWriteError{Target: w.cfg.Target, Err: err}
	}

	results := make([]port.LedgerWriteResult, len(requests))
	groups := make(map[string][]int)
	var order []string

	for i, req := range requests {
		results[i] = port.LedgerWriteResult{Key: req.Key, Target: w.cfg.Target}
		if missing := w.missingData(req.Receipt); missing != "" {
			results[i].Status = entity.LedgerStatusSkippedMissingData
			results[i].Detail = missing
			continue
		}
		identity := w.identity(req.Receipt)
		if _, ok := groups[identity]; !ok {
			order = append(order, identity)
		}
		groups[identity] = append(groups[identity], i)
	}

	for _, identity := range order {
		w.writeDocument(ctx, identity, groups[identity], requests, results, opts)
	}

	return results, nil
}

// writeDocument writes one group of requests into the document of identity.
// A request that fails before the workbook is touched is reported on its own.
// Any other failure before the save completes is reported on every item of the
// group that depended on the save.
func (w *Writer) writeDocument(ctx context.Context, identity string, indexes []int, requests []port.LedgerWriteRequest, results []port.LedgerWriteResult, opts port.WriteOptions) {
	pending := make([]bool, len(results))
	for _, i := range indexes {
		pending[i] = true
	}

	fail := func(err error) {
		werr := &entity.LedgerWriteError{Target: w.cfg.Target, Identity: identity, Err: err}
		w.logger.Error("Ledger write failed",
			zap.String("target", w.cfg.Target),
			zap.String("identity", identity),
			zap.Error(err))
		for _, i := range indexes {
			if pending[i] {
				results[i].Status = entity.LedgerStatusError
				results[i].Detail = werr.Error()
			}
		}
	}

	path, err := w.cfg.Gateway.DocumentPath(identity)
	if err != nil {
		fail(err)
		return
	}

	unlock, err := w.cfg.Locker.Lock(ctx, w.lockKey(path))
	if err != nil {
		fail(err)
		return
	}
	defer unlock()

	doc, err := w.cfg.Gateway.Open(ctx, path)
	if err != nil {
		fail(err)
		return
	}
	defer doc.Close()

	// Invoice numbers written in this batch but not yet saved
	unsaved := make(map[string]bool)
	dirty := false

	for n, i := range indexes {
		receipt := requests[i].Receipt
		res, err := w.writeRow(ctx, doc, receipt, opts)
		var ierr *itemError
		if errors.As(err, &ierr) {
			werr := &entity.LedgerWriteError{Target: w.cfg.Target, Identity: identity, Err: ierr.Err}
			w.logger.Warn("Ledger row skipped",
				zap.String("target", w.cfg.Target),
				zap.String("identity", identity),
				zap.String("key", requests[i].Key),
				zap.Error(ierr.Err))
			results[i].Status = entity.LedgerStatusError
			results[i].Detail = werr.Error()
			pending[i] = false
			continue
		}
		if err != nil {
			fail(err)
			return
		}

		// Rows already reported for this sheet follow the rows moved to make room
		for _, j := range indexes[:n] {
			if results[j].Sheet == res.Sheet && results[j].Row > 0 {
				results[j].Row = res.Shift.apply(results[j].Row)
			}
		}

		results[i].Status = res.Status
		results[i].Document = path
		results[i].Sheet = res.Sheet
		results[i].Row = res.Row
		results[i].Detail = res.Detail

		switch res.Status {
		case entity.LedgerStatusWritten:
			dirty = true
			if key := receipt.BusinessKey(); key != "" {
				unsaved[key] = true
			}
		case entity.LedgerStatusSkippedDuplicate:
			pending[i] = unsaved[receipt.BusinessKey()]
		}
	}

	if !dirty {
		return
	}

	if err := w.persist(ctx, doc); err != nil {
		fail(err)
		return
	}

	w.logger.Info("Ledger document saved",
		zap.String("target", w.cfg.Target),
		zap.String("identity", identity),
		zap.String("path", path),
		zap.Int("items", len(indexes)))
}

type rowResult struct {
	Status entity.LedgerStatus
	Sheet  string
	Row    int
	Detail string
	Shift  rowShift
}

// rowShift records how making room moved the existing rows of a sheet
type rowShift struct {
	// grownAt is the footer row a new row was added above; it and every row
	// below it moved down by one
	grownAt int
	// rows in [from, to) moved down by one
	from, to int
}

func (s rowShift) apply(row int) int {
	if s.grownAt > 0 && row >= s.grownAt {
		row++
	}
	if row >= s.from && row < s.to {
		row++
	}
	return row
}

// itemError fails a single request without touching the document, so the
// rest of its group can still be written and saved
type itemError struct {
	Err error
}

func (e *itemError) Error() string { return e.Err.Error() }

func (e *itemError) Unwrap() error { return e.Err }

// writeRow places one receipt into its month sheet. Errors returned before the
// workbook is modified are wrapped in itemError.
func (w *Writer) writeRow(ctx context.Context, doc *Document, receipt entity.Receipt, opts port.WriteOptions) (rowResult, error) {
	date, err := receipt.ParsedDate()
	if err != nil {
		return rowResult{}, &itemError{Err: fmt.Errorf("invalid receipt_date %q: %w", receipt.ReceiptDate, err)}
	}

	sheet := ledger.MonthSheetName(date)
	if _, err := w.cfg.Gateway.EnsureMonthSheet(doc, sheet); err != nil {
		return rowResult{}, &itemError{Err: err}
	}

	view, err := newSheetView(doc.File, sheet)
	if err != nil {
		return rowResult{}, &itemError{Err: err}
	}

	if !opts.Force {
		if row, found := ledger.FindDuplicate(view, w.cfg.Layout, receipt.InvoiceNumber); found {
			return rowResult{
				Status: entity.LedgerStatusSkippedDuplicate,
				Sheet:  sheet,
				Row:    row,
				Detail: fmt.Sprintf("invoice %s already recorded", receipt.InvoiceNumber),
			}, nil
		}
	}

	var place ledger.Placement
	if w.cfg.Mode == PlaceChronological {
		place = ledger.ChronologicalPosition(view, w.cfg.Layout, date)
	} else {
		place = ledger.NextWritableRow(view, w.cfg.Layout)
	}

	var shift rowShift
	if place.Insert {
		if shift, err = w.makeRoom(doc.File, sheet, view, place.Row); err != nil {
			return rowResult{}, err
		}
	}

	if err := w.fillRow(ctx, doc.File, sheet, place.Row, receipt); err != nil {
		return rowResult{}, err
	}
	if err := w.propagateStyle(doc.File, sheet, place); err != nil {
		return rowResult{}, err
	}

	res := rowResult{Status: entity.LedgerStatusWritten, Sheet: sheet, Row: place.Row, Shift: shift}
	if shift.grownAt > 0 {
		res.Detail = "no free row above the footer; added a new row"
		w.logger.Warn("Ledger sheet full, added a row above the footer",
			zap.String("target", w.cfg.Target),
			zap.String("path", doc.Path),
			zap.String("sheet", sheet),
			zap.Int("row", place.Row))
	}
	return res, nil
}

// makeRoom frees row at. The occupied rows from at down to the first free row
// each move down by one, data columns only, so computed columns and footer
// formulas keep their references. A sheet with no free row above its footer is
// grown by one row first.
func (w *Writer) makeRoom(f *excelize.File, sheet string, view ledger.Sheet, at int) (rowShift, error) {
	var shift rowShift

	free, ok := ledger.FreeRowFrom(view, w.cfg.Layout, at)
	if !ok {
		boundary := ledger.FooterBoundary(view, w.cfg.Layout)
		if err := w.growRegion(f, sheet, boundary); err != nil {
			return shift, err
		}
		shift.grownAt = boundary
		free = boundary
	}

	for row := free; row > at; row-- {
		if err := w.moveDataRow(f, sheet, row-1, row); err != nil {
			return shift, err
		}
	}
	if free > at {
		if err := w.clearDataRow(f, sheet, at); err != nil {
			return shift, err
		}
	}

	shift.from, shift.to = at, free
	return shift, nil
}

// growRegion adds one row at the bottom of the data region, directly above the
// footer at boundary. The new row is a copy of the row above the last data row,
// which gives it that row's style and computed formulas and lets range formulas
// in the footer extend over it. The last row's data then moves back up so the
// free row is the one at boundary.
func (w *Writer) growRegion(f *excelize.File, sheet string, boundary int) error {
	last := boundary - 1
	if boundary == 0 || last-1 < w.cfg.Layout.DataStartRow {
		return &itemError{Err: fmt.Errorf("sheet %s needs at least two data rows above the footer to grow", sheet)}
	}

	if err := f.DuplicateRow(sheet, last-1); err != nil {
		return fmt.Errorf("failed to add a row above the footer: %w", err)
	}
	if err := w.moveDataRow(f, sheet, boundary, last); err != nil {
		return err
	}
	return w.clearDataRow(f, sheet, boundary)
}

func (w *Writer) moveDataRow(f *excelize.File, sheet string, from, to int) error {
	for _, col := range w.cfg.Layout.DataColumns() {
		src, err := excelize.CoordinatesToCellName(col, from)
		if err != nil {
			return err
		}
		dst, err := excelize.CoordinatesToCellName(col, to)
		if err != nil {
			return err
		}
		if err := copyCellInSheet(f, sheet, src, dst); err != nil {
			return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
		}
	}
	return nil
}

func (w *Writer) clearDataRow(f *excelize.File, sheet string, row int) error {
	for _, col := range w.cfg.Layout.DataColumns() {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, nil); err != nil {
			return fmt.Errorf("failed to clear %s: %w", cell, err)
		}
	}
	return nil
}

// copyCellInSheet copies the formula or the typed value of src onto dst
func copyCellInSheet(f *excelize.File, sheet, src, dst string) error {
	formula, err := f.GetCellFormula(sheet, src)
	if err != nil {
		return err
	}
	if formula != "" {
		return f.SetCellFormula(sheet, dst, formula)
	}

	raw, err := f.GetCellValue(sheet, src, excelize.Options{RawCellValue: true})
	if err != nil {
		return err
	}
	if raw == "" {
		return f.SetCellValue(sheet, dst, nil)
	}

	typ, err := f.GetCellType(sheet, src)
	if err != nil {
		return err
	}
	switch typ {
	case excelize.CellTypeBool:
		return f.SetCellBool(sheet, dst, raw == "1" || strings.EqualFold(raw, "true"))
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return f.SetCellFloat(sheet, dst, n, -1, 64)
		}
	}
	return f.SetCellStr(sheet, dst, raw)
}

// fillRow sets the data columns of row. Computed columns are never touched.
func (w *Writer) fillRow(ctx context.Context, f *excelize.File, sheet string, row int, receipt entity.Receipt) error {
	cols := w.cfg.Layout.Columns
	date, _ := receipt.ParsedDate()

	values := []struct {
		col   int
		field string
		value interface{}
	}{
		{cols.Date, "receipt_date", date.Format(CellDateLayout)},
		{cols.Vendor, "vendor_name", receipt.VendorName},
		{cols.Invoice, "invoice_number", optionalText(receipt.InvoiceNumber)},
		{cols.Memo, "memo", optionalText(receipt.Memo)},
		{cols.Total, "total_amount", amountValue(receipt.TotalAmount)},
		{cols.Tax10, "tax_10_amount", amountValue(receipt.Tax10Amount)},
		{cols.Tax8, "tax_8_amount", amountValue(receipt.Tax8Amount)},
		{cols.Counterpart, "counterpart", w.counterpart(ctx, receipt)},
	}

	for _, v := range values {
		if v.col <= 0 || v.value == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(v.col, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v.value); err != nil {
			return fmt.Errorf("failed to set %s at row %d: %w", v.field, row, err)
		}
	}

	return nil
}

// propagateStyle copies the presentation of the previous data row onto row.
// A row inserted at the top of the data region borrows from the row it pushed down.
func (w *Writer) propagateStyle(f *excelize.File, sheet string, place ledger.Placement) error {
	source := place.Row - 1
	if source < w.cfg.Layout.DataStartRow {
		if !place.Insert {
			return nil
		}
		source = place.Row + 1
	}

	lastCol := 0
	for _, col := range append(w.cfg.Layout.DataColumns(), w.cfg.Layout.ComputedColumns...) {
		if col > lastCol {
			lastCol = col
		}
	}

	for col := 1; col <= lastCol; col++ {
		from, err := excelize.CoordinatesToCellName(col, source)
		if err != nil {
			return err
		}
		to, err := excelize.CoordinatesToCellName(col, place.Row)
		if err != nil {
			return err
		}
		styleID, err := f.GetCellStyle(sheet, from)
		if err != nil {
			return fmt.Errorf("failed to read style at %s: %w", from, err)
		}
		if styleID == 0 {
			continue
		}
		if err := f.SetCellStyle(sheet, to, to, styleID); err != nil {
			return fmt.Errorf("failed to set style at %s: %w", to, err)
		}
	}

	if height, err := f.GetRowHeight(sheet, source); err == nil && height > 0 {
		if err := f.SetRowHeight(sheet, place.Row, height); err != nil {
			return fmt.Errorf("failed to set height of row %d: %w", place.Row, err)
		}
	}
	return nil
}

// persist backs up the document on disk, saves the new version and mirrors it
func (w *Writer) persist(ctx context.Context, doc *Document) error {
	fullPath := w.cfg.Gateway.FullPath(doc.Path)

	if !doc.Created {
		content, err := os.ReadFile(fullPath)
		if err != nil {
			return fmt.Errorf("failed to read %s for backup: %w", doc.Path, err)
		}
		if _, err := w.cfg.Backups.Snapshot(ctx, doc.Path, content); err != nil {
			return err
		}
	}

	if err := w.cfg.Gateway.Save(ctx, doc); err != nil {
		return err
	}

	if w.cfg.Mirror != nil {
		w.mirror(ctx, doc.Path, fullPath)
	}
	return nil
}

func (w *Writer) mirror(ctx context.Context, path, fullPath string) {
	content, err := os.ReadFile(fullPath)
	if err == nil {
		err = w.cfg.Mirror.Put(ctx, path, content)
	}
	if err != nil {
		w.logger.Warn("Ledger mirror copy failed",
			zap.String("target", w.cfg.Target),
			zap.String("path", path),
			zap.Error(err))
	}
}

func (w *Writer) identity(receipt entity.Receipt) string {
	if w.cfg.Target == entity.TargetStaff {
		return receipt.StaffID
	}
	return receipt.BusinessLocationID
}

// lockKey is derived from the document path so identities that sanitize to
// the same file share one lock
func (w *Writer) lockKey(path string) string {
	return fmt.Sprintf("ledger:%s:%s", w.cfg.Target, filepath.ToSlash(path))
}

// missingData names the first field the writer cannot do without
func (w *Writer) missingData(receipt entity.Receipt) string {
	switch {
	case w.cfg.Target == entity.TargetStaff && receipt.StaffID == "":
		return "missing staff_id"
	case w.cfg.Target == entity.TargetLocation && receipt.BusinessLocationID == "":
		return "missing business_location_id"
	case receipt.ReceiptDate == "":
		return "missing receipt_date"
	case !receipt.TotalAmount.Valid:
		return "missing total_amount"
	}
	if _, err := receipt.ParsedDate(); err != nil {
		return fmt.Sprintf("unparseable receipt_date %q", receipt.ReceiptDate)
	}
	return ""
}

// counterpart is the name shown in the other-party column: the staff member on
// the location ledger, the location on the staff ledger. Unknown ids are
// written as-is.
func (w *Writer) counterpart(ctx context.Context, receipt entity.Receipt) interface{} {
	if w.cfg.Layout.Columns.Counterpart <= 0 {
		return nil
	}

	if w.cfg.Target == entity.TargetStaff {
		if w.cfg.Roster != nil {
			locations, err := w.cfg.Roster.ListLocations(ctx)
			if err != nil {
				w.logger.Warn("Roster lookup failed", zap.Error(err))
			}
			for _, loc := range locations {
				if loc.ID == receipt.BusinessLocationID && loc.Name != "" {
					return loc.Name
				}
			}
		}
		return optionalText(receipt.BusinessLocationID)
	}

	if w.cfg.Roster != nil {
		staff, err := w.cfg.Roster.ListStaffForLocation(ctx, receipt.BusinessLocationID)
		if err != nil {
			w.logger.Warn("Roster lookup failed", zap.Error(err))
		}
		for _, member := range staff {
			if member.ID == receipt.StaffID && member.Name != "" {
				return member.Name
			}
		}
	}
	return optionalText(receipt.StaffID)
}

func optionalText(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func amountValue(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.InexactFloat64()
}

var _ port.LedgerWriter = (*Writer)(nil)
