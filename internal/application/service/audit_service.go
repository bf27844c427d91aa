package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/domain/entity"
	"github.com/garyjia/receipt-ledger/internal/domain/event"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

// AuditService records lifecycle events and serves audit queries.
// Record never fails: a write error is logged as a warning and dropped.
type AuditService interface {
	Record(ctx context.Context, eventType event.Type, actor, draftID string, data map[string]interface{})
	GetForDraft(ctx context.Context, draftID string, limit int) ([]*event.Event, error)
	GetRecent(ctx context.Context, limit int) ([]*event.Event, error)
	GetByType(ctx context.Context, eventType event.Type, limit int) ([]*event.Event, error)
	Count(ctx context.Context) (int64, error)
}

type auditServiceImpl struct {
	repo   port.AuditRepository
	now    func() time.Time
	logger Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo port.AuditRepository, clock port.Clock, logger Logger) AuditService {
	if clock == nil {
		clock = time.Now
	}
	return &auditServiceImpl{
		repo:   repo,
		now:    clock,
		logger: logger,
	}
}

// Record appends one event, swallowing any storage failure
func (s *auditServiceImpl) Record(ctx context.Context, eventType event.Type, actor, draftID string, data map[string]interface{}) {
	e := event.NewEventAt(eventType, actor, draftID, data, s.now())

	if err := s.repo.Append(ctx, e); err != nil {
		werr := &entity.AuditWriteError{EventID: e.ID, Err: err}
		s.logger.Warn("Audit event not written",
			"error", werr,
			"event_type", string(eventType),
			"draft_id", draftID,
		)
	}
}

// GetForDraft returns the events of one draft, most recent first
func (s *auditServiceImpl) GetForDraft(ctx context.Context, draftID string, limit int) ([]*event.Event, error) {
	events, err := s.repo.GetForDraft(ctx, draftID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("get audit events for draft %s: %w", draftID, err)
	}
	return events, nil
}

// GetRecent returns the latest events across all drafts
func (s *auditServiceImpl) GetRecent(ctx context.Context, limit int) ([]*event.Event, error) {
	events, err := s.repo.GetRecent(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("get recent audit events: %w", err)
	}
	return events, nil
}

// GetByType returns the latest events of one type
func (s *auditServiceImpl) GetByType(ctx context.Context, eventType event.Type, limit int) ([]*event.Event, error) {
	if !eventType.IsValid() {
		return nil, fmt.Errorf("unknown audit event type %q", eventType)
	}
	events, err := s.repo.GetByType(ctx, eventType, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("get audit events of type %s: %w", eventType, err)
	}
	return events, nil
}

// Count returns the total number of stored events
func (s *auditServiceImpl) Count(ctx context.Context) (int64, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return n, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultAuditLimit
	case limit > maxAuditLimit:
		return maxAuditLimit
	}
	return limit
}
