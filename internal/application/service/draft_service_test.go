package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/domain/entity"
	"github.com/garyjia/receipt-ledger/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type draftFixture struct {
	repo   *mockDraftRepo
	audit  *mockAuditRepo
	clock  *steppingClock
	drafts DraftService
}

func newDraftFixture() *draftFixture {
	f := &draftFixture{
		repo:  newMockDraftRepo(),
		audit: &mockAuditRepo{},
		clock: &steppingClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)},
	}
	auditSvc := NewAuditService(f.audit, f.clock.Now, noopLogger{})
	f.drafts = NewDraftService(f.repo, &mockTxManager{}, auditSvc, f.clock.Now, noopLogger{})
	return f
}

func lawsonReceipt() entity.Receipt {
	return entity.Receipt{
		ReceiptDate:        "2024-05-10",
		VendorName:         "LAWSON",
		InvoiceNumber:      "T100",
		TotalAmount:        entity.Amount("1500"),
		BusinessLocationID: "aichi",
		StaffID:            "staff-001",
	}
}

func TestDraftService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newDraftFixture()

	draft, err := f.drafts.Create(ctx, lawsonReceipt(), "queue-001", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDraft, draft.Status)

	events, err := f.audit.GetForDraft(ctx, draft.DraftID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeDraftCreated, events[0].Type)
	assert.Equal(t, event.SystemActor, events[0].Actor)

	changed := lawsonReceipt()
	changed.VendorName = "FamilyMart"
	changed.TotalAmount = entity.Amount("2000")

	updated, err := f.drafts.Update(ctx, draft.DraftID, changed, "clerk")
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(draft.UpdatedAt))
	assert.Equal(t, "FamilyMart", updated.Receipt.VendorName)

	events, _ = f.audit.GetForDraft(ctx, draft.DraftID, 10)
	require.Len(t, events, 2)
	assert.Equal(t, event.TypeDraftUpdated, events[0].Type)
	assert.Equal(t, "FamilyMart", events[0].GetDataString("vendor_name"))
	assert.Equal(t, "vendor_name,total_amount", events[0].GetDataString("changed_fields"))
	assert.Equal(t, "clerk", events[0].Actor)

	deleted, err := f.drafts.Delete(ctx, draft.DraftID, "")
	require.NoError(t, err)
	assert.True(t, deleted)

	events, _ = f.audit.GetForDraft(ctx, draft.DraftID, 10)
	require.Len(t, events, 3)
	assert.Equal(t, []event.Type{event.TypeDraftDeleted, event.TypeDraftUpdated, event.TypeDraftCreated},
		[]event.Type{events[0].Type, events[1].Type, events[2].Type})
	assert.Equal(t, "DRAFT", events[0].GetDataString("status_before_delete"))
	assert.Equal(t, "FamilyMart", events[0].GetDataString("vendor_name"))
	assert.True(t, events[0].Timestamp.After(events[1].Timestamp))

	// earlier payloads are untouched by later operations
	assert.Equal(t, "LAWSON", events[2].GetDataString("vendor_name"))
}

func TestDraftService_SentDraftIsImmutable(t *testing.T) {
	ctx := context.Background()
	f := newDraftFixture()

	draft, err := f.drafts.Create(ctx, lawsonReceipt(), "queue-001", "")
	require.NoError(t, err)
	_, err = f.drafts.MarkSent(ctx, draft.DraftID)
	require.NoError(t, err)
	before, _ := f.repo.GetByID(ctx, draft.DraftID)

	changed := lawsonReceipt()
	changed.VendorName = "7-Eleven"
	_, err = f.drafts.Update(ctx, draft.DraftID, changed, "")
	assert.True(t, errors.Is(err, entity.ErrImmutable))

	_, err = f.drafts.MarkSent(ctx, draft.DraftID)
	var immutable *entity.ImmutabilityError
	require.True(t, errors.As(err, &immutable))
	assert.Equal(t, draft.DraftID, immutable.DraftID)

	after, _ := f.repo.GetByID(ctx, draft.DraftID)
	assert.Equal(t, before, after)
	assert.Equal(t, []event.Type{event.TypeDraftCreated}, f.audit.types(draft.DraftID))
}

func TestDraftService_DeleteSentDraft(t *testing.T) {
	ctx := context.Background()
	f := newDraftFixture()

	draft, _ := f.drafts.Create(ctx, lawsonReceipt(), "queue-001", "")
	_, err := f.drafts.MarkSent(ctx, draft.DraftID)
	require.NoError(t, err)

	ok, err := f.drafts.Delete(ctx, draft.DraftID, "")
	require.NoError(t, err)
	assert.True(t, ok)

	events, _ := f.audit.GetForDraft(ctx, draft.DraftID, 1)
	require.Len(t, events, 1)
	assert.Equal(t, "SENT", events[0].GetDataString("status_before_delete"))
}

func TestDraftService_MissingDraftIsAnError(t *testing.T) {
	ctx := context.Background()
	f := newDraftFixture()

	_, err := f.drafts.Update(ctx, "nope", lawsonReceipt(), "")
	assert.True(t, errors.Is(err, entity.ErrDraftNotFound))

	ok, err := f.drafts.Delete(ctx, "nope", "")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, entity.ErrDraftNotFound))

	_, err = f.drafts.MarkSent(ctx, "nope")
	assert.True(t, errors.Is(err, entity.ErrDraftNotFound))
}

func TestDraftService_SaveSuppressesDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newDraftFixture()

	first, created, err := f.drafts.Save(ctx, lawsonReceipt(), "queue-001", "")
	require.NoError(t, err)
	assert.True(t, created)

	changed := lawsonReceipt()
	changed.Memo = "lunch"
	second, created, err := f.drafts.Save(ctx, changed, "queue-001", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.DraftID, second.DraftID)
	assert.Equal(t, "lunch", second.Receipt.Memo)

	all, _ := f.drafts.List(ctx, port.DraftFilter{})
	assert.Len(t, all, 1)
}

func TestDraftService_SaveAfterSentCreatesNewDraft(t *testing.T) {
	ctx := context.Background()
	f := newDraftFixture()

	first, _, err := f.drafts.Save(ctx, lawsonReceipt(), "queue-001", "")
	require.NoError(t, err)
	_, err = f.drafts.MarkSent(ctx, first.DraftID)
	require.NoError(t, err)

	second, created, err := f.drafts.Save(ctx, lawsonReceipt(), "queue-001", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.DraftID, second.DraftID)
}

func TestDraftService_SaveRecoversFromCreateRace(t *testing.T) {
	ctx := context.Background()
	f := newDraftFixture()

	existing := entity.NewDraft(lawsonReceipt(), "queue-001", f.clock.Now())
	lookups := 0
	// the first lookup misses, as if a concurrent save had not committed yet
	f.repo.createFunc = func(ctx context.Context, draft *entity.Draft) error {
		f.repo.drafts[existing.DraftID] = existing
		return entity.ErrDuplicateImageRef
	}
	wrapped := &raceRepo{mockDraftRepo: f.repo, miss: &lookups}
	auditSvc := NewAuditService(f.audit, f.clock.Now, noopLogger{})
	drafts := NewDraftService(wrapped, &mockTxManager{}, auditSvc, f.clock.Now, noopLogger{})

	changed := lawsonReceipt()
	changed.Memo = "second save"
	got, created, err := drafts.Save(ctx, changed, "queue-001", "")

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing.DraftID, got.DraftID)
	assert.Equal(t, "second save", got.Receipt.Memo)
}

// raceRepo misses the first image lookup
type raceRepo struct {
	*mockDraftRepo
	miss *int
}

func (r *raceRepo) GetCurrentByImageRef(ctx context.Context, imageRef string) (*entity.Draft, error) {
	*r.miss++
	if *r.miss == 1 {
		return nil, entity.ErrDraftNotFound
	}
	return r.mockDraftRepo.GetCurrentByImageRef(ctx, imageRef)
}

func TestDraftService_RecordSendAttempt(t *testing.T) {
	ctx := context.Background()
	f := newDraftFixture()

	draft, _ := f.drafts.Create(ctx, lawsonReceipt(), "queue-001", "")

	require.NoError(t, f.drafts.RecordSendAttempt(ctx, draft.DraftID, errors.New("locked")))
	got, _ := f.drafts.Get(ctx, draft.DraftID)
	assert.Equal(t, 1, got.SendAttemptCount)
	assert.Equal(t, "locked", got.LastSendError)

	require.NoError(t, f.drafts.RecordSendAttempt(ctx, draft.DraftID, nil))
	got, _ = f.drafts.Get(ctx, draft.DraftID)
	assert.Equal(t, 2, got.SendAttemptCount)
	assert.Empty(t, got.LastSendError)
}

func TestDraftService_AuditFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	f := newDraftFixture()
	f.audit.appendFunc = func(ctx context.Context, e *event.Event) error {
		return errors.New("audit disk full")
	}

	draft, err := f.drafts.Create(ctx, lawsonReceipt(), "queue-001", "")
	require.NoError(t, err)

	_, err = f.drafts.Get(ctx, draft.DraftID)
	assert.NoError(t, err)
}
