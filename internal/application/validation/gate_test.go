package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRoster struct {
	locations []port.Location
	staff     map[string][]port.StaffMember
	err       error
}

func (m *mockRoster) ListLocations(ctx context.Context) ([]port.Location, error) {
	return m.locations, m.err
}

func (m *mockRoster) ListStaffForLocation(ctx context.Context, locationID string) ([]port.StaffMember, error) {
	return m.staff[locationID], m.err
}

func testRoster() *mockRoster {
	return &mockRoster{
		locations: []port.Location{{ID: "aichi", Name: "Aichi"}, {ID: "osaka", Name: "Osaka"}},
		staff: map[string][]port.StaffMember{
			"aichi": {{ID: "staff-001", Name: "Sato"}},
			"osaka": {{ID: "staff-002", Name: "Tanaka"}},
		},
	}
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestGate(roster port.RosterProvider) *Gate {
	return NewGate(roster,
		WithClock(func() time.Time { return fixedNow }),
		WithLocation(time.UTC),
	)
}

func validDraft() *entity.Draft {
	return &entity.Draft{
		DraftID: "d-1",
		Status:  entity.StatusDraft,
		Receipt: entity.Receipt{
			ReceiptDate:        "2024-05-10",
			VendorName:         "LAWSON",
			TotalAmount:        entity.Amount("1500"),
			BusinessLocationID: "aichi",
			StaffID:            "staff-001",
		},
		ImageRef: "queue-001",
	}
}

func TestGate_Ready(t *testing.T) {
	result := newTestGate(testRoster()).Check(context.Background(), validDraft())

	assert.True(t, result.Ready)
	assert.Empty(t, result.Violations)
	assert.NoError(t, result.Err("d-1"))
}

func TestGate_ReportsEveryViolation(t *testing.T) {
	draft := validDraft()
	draft.Receipt.BusinessLocationID = ""
	draft.Receipt.TotalAmount = entity.Amount("-100")
	draft.Receipt.ReceiptDate = "2024-06-02"

	result := newTestGate(testRoster()).Check(context.Background(), draft)

	require.False(t, result.Ready)
	assert.Equal(t, []string{
		"business_location_id is required",
		"total_amount must be greater than zero (got -100)",
		"receipt_date 2024-06-02 is in the future",
	}, result.Violations)

	err := result.Err(draft.DraftID)
	assert.True(t, errors.Is(err, entity.ErrValidation))
	var verr *entity.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Violations, 3)
}

func TestGate_Rules(t *testing.T) {
	sentAt := fixedNow

	tests := []struct {
		name   string
		mutate func(d *entity.Draft)
		want   []string
	}{
		{
			name:   "sent draft",
			mutate: func(d *entity.Draft) { d.Status = entity.StatusSent; d.SentAt = &sentAt },
			want:   []string{"status must be DRAFT (got SENT)", "sent_at must be empty"},
		},
		{
			name:   "unknown location",
			mutate: func(d *entity.Draft) { d.Receipt.BusinessLocationID = "tokyo" },
			want:   []string{`business_location_id "tokyo" is not a configured location`},
		},
		{
			name:   "staff from another location",
			mutate: func(d *entity.Draft) { d.Receipt.StaffID = "staff-002" },
			want:   []string{`staff_id "staff-002" is not registered under location "aichi"`},
		},
		{
			name:   "missing staff",
			mutate: func(d *entity.Draft) { d.Receipt.StaffID = " " },
			want:   []string{"staff_id is required"},
		},
		{
			name:   "missing total",
			mutate: func(d *entity.Draft) { d.Receipt.TotalAmount = entity.Receipt{}.TotalAmount },
			want:   []string{"total_amount is required"},
		},
		{
			name:   "zero total",
			mutate: func(d *entity.Draft) { d.Receipt.TotalAmount = entity.Amount("0") },
			want:   []string{"total_amount must be greater than zero (got 0)"},
		},
		{
			name: "negative tax buckets",
			mutate: func(d *entity.Draft) {
				d.Receipt.Tax10Amount = entity.Amount("-1")
				d.Receipt.Tax8Amount = entity.Amount("-2")
			},
			want: []string{
				"tax_10_amount must not be negative (got -1)",
				"tax_8_amount must not be negative (got -2)",
			},
		},
		{
			name:   "zero tax is fine",
			mutate: func(d *entity.Draft) { d.Receipt.Tax8Amount = entity.Amount("0") },
			want:   nil,
		},
		{
			name:   "missing date",
			mutate: func(d *entity.Draft) { d.Receipt.ReceiptDate = "" },
			want:   []string{"receipt_date is required"},
		},
		{
			name:   "unparseable date",
			mutate: func(d *entity.Draft) { d.Receipt.ReceiptDate = "2024-13-01" },
			want:   []string{`receipt_date "2024-13-01" is not a valid YYYY-MM-DD date`},
		},
		{
			name:   "before floor",
			mutate: func(d *entity.Draft) { d.Receipt.ReceiptDate = "1999-12-31" },
			want:   []string{"receipt_date 1999-12-31 is before 2000-01-01"},
		},
		{
			name:   "today is accepted",
			mutate: func(d *entity.Draft) { d.Receipt.ReceiptDate = "2024-06-01" },
			want:   nil,
		},
		{
			name:   "blank vendor",
			mutate: func(d *entity.Draft) { d.Receipt.VendorName = "  " },
			want:   []string{"vendor_name is required"},
		},
		{
			name:   "missing image",
			mutate: func(d *entity.Draft) { d.ImageRef = "" },
			want:   []string{"image_ref is required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := validDraft()
			tt.mutate(draft)

			result := newTestGate(testRoster()).Check(context.Background(), draft)

			assert.Equal(t, tt.want, result.Violations)
			assert.Equal(t, len(tt.want) == 0, result.Ready)
		})
	}
}

func TestGate_RosterUnavailable(t *testing.T) {
	roster := testRoster()
	roster.err = errors.New("file missing")

	result := newTestGate(roster).Check(context.Background(), validDraft())

	assert.False(t, result.Ready)
	assert.Equal(t, []string{"location roster unavailable: file missing"}, result.Violations)
}

func TestGate_FutureUsesConfiguredCalendar(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	// 2024-06-01 20:00 UTC is already 2024-06-02 in Tokyo
	now := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)
	gate := NewGate(testRoster(), WithClock(func() time.Time { return now }), WithLocation(tokyo))

	draft := validDraft()
	draft.Receipt.ReceiptDate = "2024-06-02"

	assert.True(t, gate.Check(context.Background(), draft).Ready)
}
