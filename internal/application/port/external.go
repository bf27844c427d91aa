package port

import (
	"context"
	"time"

	"github.com/garyjia/receipt-ledger/internal/domain/entity"
)

// StaffMember is one registered staff entry of a location
type StaffMember struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Location is one configured business location
type Location struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// RosterProvider exposes the configured locations and their staff, read-only
type RosterProvider interface {
	ListLocations(ctx context.Context) ([]Location, error)
	ListStaffForLocation(ctx context.Context, locationID string) ([]StaffMember, error)
}

// LedgerWriteRequest is one receipt to be written, keyed by its draft id
type LedgerWriteRequest struct {
	Key     string
	Receipt entity.Receipt
}

// WriteOptions modifies a single ledger write
type WriteOptions struct {
	// Force writes even when the invoice number is already in the sheet
	Force bool
}

// LedgerWriteResult is the outcome of one write into one ledger document
type LedgerWriteResult struct {
	Key      string              `json:"key,omitempty"`
	Target   string              `json:"target"`
	Status   entity.LedgerStatus `json:"status"`
	Document string              `json:"document,omitempty"`
	Sheet    string              `json:"sheet,omitempty"`
	Row      int                 `json:"row,omitempty"`
	Detail   string              `json:"detail,omitempty"`
}

// LedgerWriter writes receipts into one kind of ledger (location or staff).
// Per-item failures are reported in the results, which are index-aligned with
// the requests; the error return is reserved for an outage of the whole writer.
type LedgerWriter interface {
	Target() string
	Write(ctx context.Context, receipt entity.Receipt, opts WriteOptions) (LedgerWriteResult, error)
	WriteBatch(ctx context.Context, requests []LedgerWriteRequest, opts WriteOptions) ([]LedgerWriteResult, error)
}

// DocumentLocker serializes writers of a single ledger document
type DocumentLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// TaskRunner runs fire-and-forget tasks. *ants.Pool satisfies it.
type TaskRunner interface {
	Submit(task func()) error
}

// Clock returns the current instant
type Clock func() time.Time
