package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/domain/entity"
	"github.com/garyjia/receipt-ledger/internal/domain/workflow"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/retry"
	"github.com/garyjia/receipt-ledger/pkg/database"
	"go.uber.org/zap"
)

const draftColumns = `
	draft_id, status, receipt_json, image_ref, created_at, updated_at, sent_at,
	send_attempt_count, last_send_attempt_at, last_send_error`

// DraftRepository implements port.DraftRepository on SQLite
type DraftRepository struct {
	db     *sql.DB
	policy retry.Policy
	logger *zap.Logger
}

// NewDraftRepository creates a new draft repository
func NewDraftRepository(db *sql.DB, policy retry.Policy, logger *zap.Logger) port.DraftRepository {
	return &DraftRepository{
		db:     db,
		policy: policy,
		logger: logger,
	}
}

// Create inserts a new draft
func (r *DraftRepository) Create(ctx context.Context, draft *entity.Draft) error {
	payload, err := json.Marshal(draft.Receipt)
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}

	query := `
		INSERT INTO drafts (
			draft_id, status, receipt_json, image_ref, location_id, staff_id,
			created_at, updated_at, sent_at, send_attempt_count,
			last_send_attempt_at, last_send_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = r.do(ctx, func() error {
		_, err := r.getExecutor(ctx).ExecContext(ctx, query,
			draft.DraftID,
			draft.Status.String(),
			string(payload),
			draft.ImageRef,
			draft.Receipt.BusinessLocationID,
			draft.Receipt.StaffID,
			draft.CreatedAt,
			draft.UpdatedAt,
			nullTime(draft.SentAt),
			draft.SendAttemptCount,
			nullTime(draft.LastSendAttemptAt),
			draft.LastSendError,
		)
		return err
	})
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("failed to create draft: %w", entity.ErrDuplicateImageRef)
	}
	if err != nil {
		r.logger.Error("Failed to create draft", zap.String("draft_id", draft.DraftID), zap.Error(err))
		return fmt.Errorf("failed to create draft: %w", err)
	}
	return nil
}

// GetByID retrieves a draft by its id
func (r *DraftRepository) GetByID(ctx context.Context, draftID string) (*entity.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts WHERE draft_id = ?`
	return r.getOne(ctx, query, draftID)
}

// GetCurrentByImageRef retrieves the DRAFT-status record for an image
func (r *DraftRepository) GetCurrentByImageRef(ctx context.Context, imageRef string) (*entity.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts WHERE image_ref = ? AND status = 'DRAFT'
		ORDER BY created_at DESC LIMIT 1`
	return r.getOne(ctx, query, imageRef)
}

// Update stores the receipt and updated_at of a DRAFT-status record
func (r *DraftRepository) Update(ctx context.Context, draft *entity.Draft) error {
	payload, err := json.Marshal(draft.Receipt)
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}

	query := `
		UPDATE drafts
		SET receipt_json = ?, location_id = ?, staff_id = ?, updated_at = ?
		WHERE draft_id = ? AND status = 'DRAFT'
	`

	var affected int64
	err = r.do(ctx, func() error {
		result, err := r.getExecutor(ctx).ExecContext(ctx, query,
			string(payload),
			draft.Receipt.BusinessLocationID,
			draft.Receipt.StaffID,
			draft.UpdatedAt,
			draft.DraftID,
		)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		r.logger.Error("Failed to update draft", zap.String("draft_id", draft.DraftID), zap.Error(err))
		return fmt.Errorf("failed to update draft: %w", err)
	}
	if affected == 0 {
		return r.explainNoRows(ctx, draft.DraftID, "updated")
	}
	return nil
}

// MarkSent moves a DRAFT to SENT in a single conditional statement
func (r *DraftRepository) MarkSent(ctx context.Context, draftID string, sentAt time.Time) error {
	query := `
		UPDATE drafts
		SET status = 'SENT', sent_at = ?, updated_at = ?, last_send_error = ''
		WHERE draft_id = ? AND status = 'DRAFT'
	`

	var affected int64
	err := r.do(ctx, func() error {
		result, err := r.getExecutor(ctx).ExecContext(ctx, query, sentAt.UTC(), sentAt.UTC(), draftID)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		r.logger.Error("Failed to mark draft as sent", zap.String("draft_id", draftID), zap.Error(err))
		return fmt.Errorf("failed to mark draft as sent: %w", err)
	}
	if affected == 0 {
		return r.explainNoRows(ctx, draftID, "re-sent")
	}
	return nil
}

// RecordSendAttempt bumps the attempt counter and stores the last error
func (r *DraftRepository) RecordSendAttempt(ctx context.Context, draftID, errMsg string, at time.Time) error {
	query := `
		UPDATE drafts
		SET send_attempt_count = send_attempt_count + 1,
			last_send_attempt_at = ?, last_send_error = ?
		WHERE draft_id = ?
	`

	var affected int64
	err := r.do(ctx, func() error {
		result, err := r.getExecutor(ctx).ExecContext(ctx, query, at.UTC(), errMsg, draftID)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record send attempt: %w", err)
	}
	if affected == 0 {
		return entity.ErrDraftNotFound
	}
	return nil
}

// Delete removes a draft whatever its status
func (r *DraftRepository) Delete(ctx context.Context, draftID string) error {
	var affected int64
	err := r.do(ctx, func() error {
		result, err := r.getExecutor(ctx).ExecContext(ctx, `DELETE FROM drafts WHERE draft_id = ?`, draftID)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		r.logger.Error("Failed to delete draft", zap.String("draft_id", draftID), zap.Error(err))
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	if affected == 0 {
		return entity.ErrDraftNotFound
	}
	return nil
}

// List returns drafts matching filter, newest first
func (r *DraftRepository) List(ctx context.Context, filter port.DraftFilter) ([]*entity.Draft, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status.String())
	}
	if filter.LocationID != "" {
		where = append(where, "location_id = ?")
		args = append(args, filter.LocationID)
	}
	if filter.StaffID != "" {
		where = append(where, "staff_id = ?")
		args = append(args, filter.StaffID)
	}

	query := `SELECT ` + draftColumns + ` FROM drafts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, draft_id LIMIT ? OFFSET ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)

	var drafts []*entity.Draft
	err := r.do(ctx, func() error {
		rows, err := r.getExecutor(ctx).QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		drafts = drafts[:0]
		for rows.Next() {
			draft, err := scanDraft(rows)
			if err != nil {
				return err
			}
			drafts = append(drafts, draft)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list drafts", zap.Error(err))
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, nil
}

func (r *DraftRepository) getOne(ctx context.Context, query string, arg interface{}) (*entity.Draft, error) {
	var draft *entity.Draft
	err := r.do(ctx, func() error {
		var err error
		draft, err = scanDraft(r.getExecutor(ctx).QueryRowContext(ctx, query, arg))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrDraftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	return draft, nil
}

// explainNoRows tells a missing draft apart from one that is already SENT
func (r *DraftRepository) explainNoRows(ctx context.Context, draftID, operation string) error {
	draft, err := r.GetByID(ctx, draftID)
	if err != nil {
		return err
	}
	if draft.IsSent() {
		return &entity.ImmutabilityError{DraftID: draftID, Operation: operation}
	}
	return fmt.Errorf("draft %s changed concurrently", draftID)
}

// do applies the retry policy outside transactions; inside one, the
// transaction manager owns retries
func (r *DraftRepository) do(ctx context.Context, op func() error) error {
	if sqlite.TxFromContext(ctx) != nil {
		return op()
	}
	return r.policy.Do(ctx, database.IsContention, op)
}

func (r *DraftRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDraft(row rowScanner) (*entity.Draft, error) {
	var (
		draft         entity.Draft
		status        string
		payload       string
		sentAt        sql.NullTime
		lastAttemptAt sql.NullTime
	)

	err := row.Scan(
		&draft.DraftID,
		&status,
		&payload,
		&draft.ImageRef,
		&draft.CreatedAt,
		&draft.UpdatedAt,
		&sentAt,
		&draft.SendAttemptCount,
		&lastAttemptAt,
		&draft.LastSendError,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payload), &draft.Receipt); err != nil {
		return nil, fmt.Errorf("failed to decode receipt of draft %s: %w", draft.DraftID, err)
	}
	draft.Status = workflow.State(status)
	draft.CreatedAt = draft.CreatedAt.UTC()
	draft.UpdatedAt = draft.UpdatedAt.UTC()
	if sentAt.Valid {
		t := sentAt.Time.UTC()
		draft.SentAt = &t
	}
	if lastAttemptAt.Valid {
		t := lastAttemptAt.Time.UTC()
		draft.LastSendAttemptAt = &t
	}
	return &draft, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Verify interface compliance
var _ port.DraftRepository = (*DraftRepository)(nil)
