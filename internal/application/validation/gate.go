// Package validation implements the READY-TO-SEND gate run on every draft
// before any ledger is touched.
package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/domain/entity"
)

// DateFloor is the earliest receipt date accepted
var DateFloor = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Result is the gate verdict for one draft
type Result struct {
	Ready      bool     `json:"ready"`
	Violations []string `json:"violations,omitempty"`
}

// Err converts a failed result into a *entity.ValidationError, nil when ready
func (r Result) Err(draftID string) error {
	if r.Ready {
		return nil
	}
	return &entity.ValidationError{DraftID: draftID, Violations: r.Violations}
}

// Option configures a Gate
type Option func(*Gate)

// WithClock overrides the validation instant source
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLocation sets the calendar used to decide whether a receipt date is in the future
func WithLocation(loc *time.Location) Option {
	return func(g *Gate) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// Gate evaluates every READY-TO-SEND rule group and reports all violations at once
type Gate struct {
	roster port.RosterProvider
	now    func() time.Time
	loc    *time.Location
}

// NewGate creates a Gate backed by the given roster
func NewGate(roster port.RosterProvider, opts ...Option) *Gate {
	g := &Gate{
		roster: roster,
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check runs the state, business identity, financial, date, vendor and image
// rules in that order without short-circuiting
func (g *Gate) Check(ctx context.Context, draft *entity.Draft) Result {
	var v []string

	v = append(v, checkState(draft)...)
	v = append(v, g.checkIdentity(ctx, draft.Receipt)...)
	v = append(v, checkAmounts(draft.Receipt)...)
	v = append(v, g.checkDate(draft.Receipt)...)

	if strings.TrimSpace(draft.Receipt.VendorName) == "" {
		v = append(v, "vendor_name is required")
	}
	if strings.TrimSpace(draft.ImageRef) == "" {
		v = append(v, "image_ref is required")
	}

	return Result{Ready: len(v) == 0, Violations: v}
}

func checkState(draft *entity.Draft) []string {
	var v []string
	if draft.Status != entity.StatusDraft {
		v = append(v, fmt.Sprintf("status must be DRAFT (got %s)", draft.Status))
	}
	if draft.SentAt != nil {
		v = append(v, "sent_at must be empty")
	}
	return v
}

func (g *Gate) checkIdentity(ctx context.Context, r entity.Receipt) []string {
	var v []string
	locationID := strings.TrimSpace(r.BusinessLocationID)
	staffID := strings.TrimSpace(r.StaffID)

	locationKnown := false
	switch {
	case locationID == "":
		v = append(v, "business_location_id is required")
	default:
		locations, err := g.roster.ListLocations(ctx)
		if err != nil {
			v = append(v, fmt.Sprintf("location roster unavailable: %v", err))
			break
		}
		for _, loc := range locations {
			if loc.ID == locationID {
				locationKnown = true
				break
			}
		}
		if !locationKnown {
			v = append(v, fmt.Sprintf("business_location_id %q is not a configured location", locationID))
		}
	}

	if staffID == "" {
		return append(v, "staff_id is required")
	}
	// staff membership can only be judged against a known location
	if !locationKnown {
		return v
	}
	staff, err := g.roster.ListStaffForLocation(ctx, locationID)
	if err != nil {
		return append(v, fmt.Sprintf("staff roster for %q unavailable: %v", locationID, err))
	}
	for _, member := range staff {
		if member.ID == staffID {
			return v
		}
	}
	return append(v, fmt.Sprintf("staff_id %q is not registered under location %q", staffID, locationID))
}

func checkAmounts(r entity.Receipt) []string {
	var v []string
	switch {
	case !r.TotalAmount.Valid:
		v = append(v, "total_amount is required")
	case !r.TotalAmount.Decimal.IsPositive():
		v = append(v, fmt.Sprintf("total_amount must be greater than zero (got %s)", r.TotalAmount.Decimal))
	}
	if r.Tax10Amount.Valid && r.Tax10Amount.Decimal.IsNegative() {
		v = append(v, fmt.Sprintf("tax_10_amount must not be negative (got %s)", r.Tax10Amount.Decimal))
	}
	if r.Tax8Amount.Valid && r.Tax8Amount.Decimal.IsNegative() {
		v = append(v, fmt.Sprintf("tax_8_amount must not be negative (got %s)", r.Tax8Amount.Decimal))
	}
	return v
}

func (g *Gate) checkDate(r entity.Receipt) []string {
	if strings.TrimSpace(r.ReceiptDate) == "" {
		return []string{"receipt_date is required"}
	}
	date, err := r.ParsedDate()
	if err != nil {
		return []string{fmt.Sprintf("receipt_date %q is not a valid YYYY-MM-DD date", r.ReceiptDate)}
	}

	now := g.now().In(g.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch {
	case date.After(today):
		return []string{fmt.Sprintf("receipt_date %s is in the future", r.ReceiptDate)}
	case date.Before(DateFloor):
		return []string{fmt.Sprintf("receipt_date %s is before %s", r.ReceiptDate, DateFloor.Format(entity.ReceiptDateLayout))}
	}
	return nil
}
