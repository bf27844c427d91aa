package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/domain/event"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/retry"
	"github.com/garyjia/receipt-ledger/pkg/database"
	"go.uber.org/zap"
)

const auditColumns = `event_id, event_type, timestamp, actor, draft_id, data, created_at`

// AuditRepository implements port.AuditRepository on an append-only SQLite table.
// Update and delete are rejected by triggers in the schema.
type AuditRepository struct {
	db     *sql.DB
	policy retry.Policy
	now    func() time.Time
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, policy retry.Policy, logger *zap.Logger) port.AuditRepository {
	return &AuditRepository{
		db:     db,
		policy: policy,
		now:    time.Now,
		logger: logger,
	}
}

// Append persists one event and stamps its CreatedAt
func (r *AuditRepository) Append(ctx context.Context, e *event.Event) error {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to encode audit data: %w", err)
	}

	query := `
		INSERT INTO audit_events (event_id, event_type, timestamp, actor, draft_id, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var createdAt time.Time
	err = r.policy.Do(ctx, database.IsContention, func() error {
		createdAt = r.now().UTC()
		_, err := r.getExecutor(ctx).ExecContext(ctx, query,
			e.ID,
			string(e.Type),
			e.Timestamp.UTC().UnixNano(),
			e.Actor,
			nullString(e.DraftID),
			string(payload),
			createdAt.UnixNano(),
		)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to append audit event",
			zap.String("event_id", e.ID),
			zap.String("event_type", string(e.Type)),
			zap.Error(err))
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	e.CreatedAt = createdAt
	return nil
}

// GetForDraft returns a draft's events, most recent first
func (r *AuditRepository) GetForDraft(ctx context.Context, draftID string, limit int) ([]*event.Event, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_events WHERE draft_id = ?
		ORDER BY timestamp DESC, rowid DESC LIMIT ?`
	return r.query(ctx, query, draftID, limit)
}

// GetRecent returns the latest events, most recent first
func (r *AuditRepository) GetRecent(ctx context.Context, limit int) ([]*event.Event, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_events
		ORDER BY timestamp DESC, rowid DESC LIMIT ?`
	return r.query(ctx, query, limit)
}

// GetByType returns the latest events of one type, most recent first
func (r *AuditRepository) GetByType(ctx context.Context, eventType event.Type, limit int) ([]*event.Event, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_events WHERE event_type = ?
		ORDER BY timestamp DESC, rowid DESC LIMIT ?`
	return r.query(ctx, query, string(eventType), limit)
}

// Count returns the number of stored events
func (r *AuditRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.policy.Do(ctx, database.IsContention, func() error {
		return r.getExecutor(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return n, nil
}

func (r *AuditRepository) query(ctx context.Context, query string, args ...interface{}) ([]*event.Event, error) {
	var events []*event.Event
	err := r.policy.Do(ctx, database.IsContention, func() error {
		rows, err := r.getExecutor(ctx).QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		events = events[:0]
		for rows.Next() {
			e, err := scanEvent(rows)
			if err != nil {
				return err
			}
			events = append(events, e)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to query audit events", zap.Error(err))
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	return events, nil
}

func (r *AuditRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var (
		e         event.Event
		eventType string
		ts        int64
		draftID   sql.NullString
		payload   string
		createdAt int64
	)

	if err := row.Scan(&e.ID, &eventType, &ts, &e.Actor, &draftID, &payload, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	e.Type = event.Type(eventType)
	e.Timestamp = time.Unix(0, ts).UTC()
	e.CreatedAt = time.Unix(0, createdAt).UTC()
	e.DraftID = draftID.String
	e.Data = make(map[string]interface{})
	if err := json.Unmarshal([]byte(payload), &e.Data); err != nil {
		return nil, fmt.Errorf("failed to decode audit data of %s: %w", e.ID, err)
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Verify interface compliance
var _ port.AuditRepository = (*AuditRepository)(nil)
