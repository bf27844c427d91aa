package port

import (
	"context"
	"time"

	"github.com/garyjia/receipt-ledger/internal/domain/entity"
	"github.com/garyjia/receipt-ledger/internal/domain/event"
	"github.com/garyjia/receipt-ledger/internal/domain/workflow"
)

// DraftFilter narrows List results. Zero values mean "any".
type DraftFilter struct {
	Status     workflow.State
	LocationID string
	StaffID    string
	Limit      int
	Offset     int
}

// DraftRepository defines persistence operations for Draft records
type DraftRepository interface {
	// Create inserts a new draft. A second DRAFT for the same image_ref is rejected
	// with ErrDuplicateImageRef.
	Create(ctx context.Context, draft *entity.Draft) error

	// GetByID returns entity.ErrDraftNotFound when no such draft exists
	GetByID(ctx context.Context, draftID string) (*entity.Draft, error)

	// GetCurrentByImageRef returns the DRAFT-status record for imageRef, or
	// entity.ErrDraftNotFound
	GetCurrentByImageRef(ctx context.Context, imageRef string) (*entity.Draft, error)

	// Update persists receipt and updated_at of a DRAFT-status record
	Update(ctx context.Context, draft *entity.Draft) error

	// MarkSent atomically moves a DRAFT record to SENT
	MarkSent(ctx context.Context, draftID string, sentAt time.Time) error

	// RecordSendAttempt bumps the attempt counter and stores errMsg ("" on success)
	RecordSendAttempt(ctx context.Context, draftID string, errMsg string, at time.Time) error

	// Delete removes the record regardless of status
	Delete(ctx context.Context, draftID string) error

	List(ctx context.Context, filter DraftFilter) ([]*entity.Draft, error)
}

// AuditRepository is the append-only audit event store. Reads are most-recent-first.
type AuditRepository interface {
	Append(ctx context.Context, e *event.Event) error
	GetForDraft(ctx context.Context, draftID string, limit int) ([]*event.Event, error)
	GetRecent(ctx context.Context, limit int) ([]*event.Event, error)
	GetByType(ctx context.Context, eventType event.Type, limit int) ([]*event.Event, error)
	Count(ctx context.Context) (int64, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
