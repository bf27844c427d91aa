package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/domain/entity"
	"github.com/garyjia/receipt-ledger/internal/domain/event"
)

// mockDraftRepo keeps drafts in memory unless a func field overrides a method
type mockDraftRepo struct {
	mu     sync.Mutex
	drafts map[string]*entity.Draft

	createFunc            func(ctx context.Context, draft *entity.Draft) error
	updateFunc            func(ctx context.Context, draft *entity.Draft) error
	markSentFunc          func(ctx context.Context, draftID string, sentAt time.Time) error
	recordSendAttemptFunc func(ctx context.Context, draftID, errMsg string, at time.Time) error
}

func newMockDraftRepo() *mockDraftRepo {
	return &mockDraftRepo{drafts: make(map[string]*entity.Draft)}
}

func (m *mockDraftRepo) Create(ctx context.Context, draft *entity.Draft) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, draft)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drafts {
		if d.ImageRef != "" && d.ImageRef == draft.ImageRef && d.Status == entity.StatusDraft {
			return entity.ErrDuplicateImageRef
		}
	}
	m.drafts[draft.DraftID] = draft.Clone()
	return nil
}

func (m *mockDraftRepo) GetByID(ctx context.Context, draftID string) (*entity.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[draftID]
	if !ok {
		return nil, entity.ErrDraftNotFound
	}
	return d.Clone(), nil
}

func (m *mockDraftRepo) GetCurrentByImageRef(ctx context.Context, imageRef string) (*entity.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drafts {
		if d.ImageRef == imageRef && d.Status == entity.StatusDraft {
			return d.Clone(), nil
		}
	}
	return nil, entity.ErrDraftNotFound
}

func (m *mockDraftRepo) Update(ctx context.Context, draft *entity.Draft) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, draft)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.drafts[draft.DraftID]
	if !ok {
		return entity.ErrDraftNotFound
	}
	if current.IsSent() {
		return &entity.ImmutabilityError{DraftID: draft.DraftID, Operation: "updated"}
	}
	m.drafts[draft.DraftID] = draft.Clone()
	return nil
}

func (m *mockDraftRepo) MarkSent(ctx context.Context, draftID string, sentAt time.Time) error {
	if m.markSentFunc != nil {
		return m.markSentFunc(ctx, draftID, sentAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.drafts[draftID]
	if !ok {
		return entity.ErrDraftNotFound
	}
	if current.IsSent() {
		return &entity.ImmutabilityError{DraftID: draftID, Operation: "re-sent"}
	}
	current.Status = entity.StatusSent
	current.SentAt = &sentAt
	current.UpdatedAt = sentAt
	return nil
}

func (m *mockDraftRepo) RecordSendAttempt(ctx context.Context, draftID, errMsg string, at time.Time) error {
	if m.recordSendAttemptFunc != nil {
		return m.recordSendAttemptFunc(ctx, draftID, errMsg, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.drafts[draftID]
	if !ok {
		return entity.ErrDraftNotFound
	}
	current.RecordSendAttempt(errMsg, at)
	return nil
}

func (m *mockDraftRepo) Delete(ctx context.Context, draftID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drafts[draftID]; !ok {
		return entity.ErrDraftNotFound
	}
	delete(m.drafts, draftID)
	return nil
}

func (m *mockDraftRepo) List(ctx context.Context, filter port.DraftFilter) ([]*entity.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Draft
	for _, d := range m.drafts {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// mockAuditRepo records appended events; reads are most recent first
type mockAuditRepo struct {
	mu         sync.Mutex
	events     []*event.Event
	appendFunc func(ctx context.Context, e *event.Event) error
}

func (m *mockAuditRepo) Append(ctx context.Context, e *event.Event) error {
	if m.appendFunc != nil {
		return m.appendFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockAuditRepo) filter(limit int, keep func(*event.Event) bool) []*event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*event.Event
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	return out
}

func (m *mockAuditRepo) GetForDraft(ctx context.Context, draftID string, limit int) ([]*event.Event, error) {
	return m.filter(limit, func(e *event.Event) bool { return e.DraftID == draftID }), nil
}

func (m *mockAuditRepo) GetRecent(ctx context.Context, limit int) ([]*event.Event, error) {
	return m.filter(limit, func(*event.Event) bool { return true }), nil
}

func (m *mockAuditRepo) GetByType(ctx context.Context, eventType event.Type, limit int) ([]*event.Event, error) {
	return m.filter(limit, func(e *event.Event) bool { return e.Type == eventType }), nil
}

func (m *mockAuditRepo) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events)), nil
}

func (m *mockAuditRepo) types(draftID string) []event.Type {
	var out []event.Type
	for _, e := range m.filter(1<<30, func(e *event.Event) bool { return e.DraftID == draftID }) {
		out = append(out, e.Type)
	}
	return out
}

type mockTxManager struct{}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// mockLedgerWriter writes nothing; by default every item is "written" at an increasing row
type mockLedgerWriter struct {
	target         string
	writeBatchFunc func(ctx context.Context, requests []port.LedgerWriteRequest, opts port.WriteOptions) ([]port.LedgerWriteResult, error)

	mu    sync.Mutex
	calls int
	keys  map[string]int
	next  int
}

func newMockLedgerWriter(target string) *mockLedgerWriter {
	return &mockLedgerWriter{target: target, keys: make(map[string]int), next: 6}
}

func (m *mockLedgerWriter) Target() string {
	return m.target
}

func (m *mockLedgerWriter) Write(ctx context.Context, receipt entity.Receipt, opts port.WriteOptions) (port.LedgerWriteResult, error) {
	results, err := m.WriteBatch(ctx, []port.LedgerWriteRequest{{Receipt: receipt}}, opts)
	if err != nil {
		return port.LedgerWriteResult{}, err
	}
	return results[0], nil
}

func (m *mockLedgerWriter) WriteBatch(ctx context.Context, requests []port.LedgerWriteRequest, opts port.WriteOptions) ([]port.LedgerWriteResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.writeBatchFunc != nil {
		return m.writeBatchFunc(ctx, requests, opts)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]port.LedgerWriteResult, len(requests))
	for i, req := range requests {
		key := req.Receipt.BusinessKey()
		if row, ok := m.keys[key]; ok && key != "" && !opts.Force {
			results[i] = port.LedgerWriteResult{Key: req.Key, Target: m.target, Status: entity.LedgerStatusSkippedDuplicate, Row: row}
			continue
		}
		m.keys[key] = m.next
		results[i] = port.LedgerWriteResult{Key: req.Key, Target: m.target, Status: entity.LedgerStatusWritten, Row: m.next, Sheet: "2024-05"}
		m.next++
	}
	return results, nil
}

func (m *mockLedgerWriter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockRoster struct{}

func (m *mockRoster) ListLocations(ctx context.Context) ([]port.Location, error) {
	return []port.Location{{ID: "aichi", Name: "Aichi"}}, nil
}

func (m *mockRoster) ListStaffForLocation(ctx context.Context, locationID string) ([]port.StaffMember, error) {
	if locationID != "aichi" {
		return nil, nil
	}
	return []port.StaffMember{{ID: "staff-001", Name: "Sato"}}, nil
}

// goRunner runs tasks on fresh goroutines
type goRunner struct{}

func (goRunner) Submit(task func()) error {
	go task()
	return nil
}

type noopLogger struct{}

func (noopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Error(msg string, keysAndValues ...interface{}) {}

// steppingClock advances by one second on every call
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}
