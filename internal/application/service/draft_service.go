package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/domain/entity"
	"github.com/garyjia/receipt-ledger/internal/domain/event"
	"github.com/shopspring/decimal"
)

// DraftService manages the DRAFT/SENT lifecycle of receipt drafts
type DraftService interface {
	Create(ctx context.Context, receipt entity.Receipt, imageRef, actor string) (*entity.Draft, error)
	// Save updates the current DRAFT for imageRef, or creates one. The bool reports creation.
	Save(ctx context.Context, receipt entity.Receipt, imageRef, actor string) (*entity.Draft, bool, error)
	Update(ctx context.Context, draftID string, receipt entity.Receipt, actor string) (*entity.Draft, error)
	MarkSent(ctx context.Context, draftID string) (*entity.Draft, error)
	Delete(ctx context.Context, draftID, actor string) (bool, error)
	Get(ctx context.Context, draftID string) (*entity.Draft, error)
	List(ctx context.Context, filter port.DraftFilter) ([]*entity.Draft, error)
	RecordSendAttempt(ctx context.Context, draftID string, sendErr error) error
}

type draftServiceImpl struct {
	repo      port.DraftRepository
	txManager port.TransactionManager
	audit     AuditService
	now       func() time.Time
	logger    Logger
}

// NewDraftService creates a new DraftService
func NewDraftService(
	repo port.DraftRepository,
	txManager port.TransactionManager,
	audit AuditService,
	clock port.Clock,
	logger Logger,
) DraftService {
	if clock == nil {
		clock = time.Now
	}
	return &draftServiceImpl{
		repo:      repo,
		txManager: txManager,
		audit:     audit,
		now:       clock,
		logger:    logger,
	}
}

// Create stores a new DRAFT and records DRAFT_CREATED
func (s *draftServiceImpl) Create(ctx context.Context, receipt entity.Receipt, imageRef, actor string) (*entity.Draft, error) {
	draft := entity.NewDraft(receipt, imageRef, s.now())

	if err := s.repo.Create(ctx, draft); err != nil {
		s.logger.Error("Failed to create draft", "error", err, "image_ref", imageRef)
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}

	s.logger.Info("Draft created", "draft_id", draft.DraftID, "image_ref", imageRef)
	s.audit.Record(ctx, event.TypeDraftCreated, actor, draft.DraftID, receiptSummary(draft))
	return draft, nil
}

// Save suppresses duplicate drafts for one image: an existing DRAFT is updated in place
func (s *draftServiceImpl) Save(ctx context.Context, receipt entity.Receipt, imageRef, actor string) (*entity.Draft, bool, error) {
	if strings.TrimSpace(imageRef) != "" {
		current, err := s.repo.GetCurrentByImageRef(ctx, imageRef)
		switch {
		case err == nil:
			updated, uerr := s.Update(ctx, current.DraftID, receipt, actor)
			return updated, false, uerr
		case !errors.Is(err, entity.ErrDraftNotFound):
			return nil, false, fmt.Errorf("failed to look up draft by image: %w", err)
		}
	}

	draft, err := s.Create(ctx, receipt, imageRef, actor)
	if errors.Is(err, entity.ErrDuplicateImageRef) {
		// lost a race with a concurrent save of the same image
		current, gerr := s.repo.GetCurrentByImageRef(ctx, imageRef)
		if gerr != nil {
			return nil, false, fmt.Errorf("failed to look up draft by image: %w", gerr)
		}
		updated, uerr := s.Update(ctx, current.DraftID, receipt, actor)
		return updated, false, uerr
	}
	if err != nil {
		return nil, false, err
	}
	return draft, true, nil
}

// Update replaces the receipt of a DRAFT. A SENT draft yields *entity.ImmutabilityError.
func (s *draftServiceImpl) Update(ctx context.Context, draftID string, receipt entity.Receipt, actor string) (*entity.Draft, error) {
	var (
		draft   *entity.Draft
		changed []string
	)

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := s.repo.GetByID(txCtx, draftID)
		if err != nil {
			return err
		}
		changed = changedFields(current.Receipt, receipt)
		if err := current.ApplyUpdate(receipt, s.now()); err != nil {
			return err
		}
		if err := s.repo.Update(txCtx, current); err != nil {
			return err
		}
		draft = current
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to update draft", "error", err, "draft_id", draftID)
		return nil, fmt.Errorf("failed to update draft %s: %w", draftID, err)
	}

	data := receiptSummary(draft)
	data["changed_fields"] = strings.Join(changed, ",")
	s.audit.Record(ctx, event.TypeDraftUpdated, actor, draftID, data)
	s.logger.Info("Draft updated", "draft_id", draftID, "changed_fields", changed)
	return draft, nil
}

// MarkSent moves a DRAFT to SENT. A SENT draft yields *entity.ImmutabilityError.
func (s *draftServiceImpl) MarkSent(ctx context.Context, draftID string) (*entity.Draft, error) {
	draft, err := s.repo.GetByID(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark draft %s as sent: %w", draftID, err)
	}
	if err := draft.MarkSent(s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.MarkSent(ctx, draftID, *draft.SentAt); err != nil {
		return nil, fmt.Errorf("failed to mark draft %s as sent: %w", draftID, err)
	}
	return draft, nil
}

// Delete removes a draft whatever its status; ledger rows already written stay
func (s *draftServiceImpl) Delete(ctx context.Context, draftID, actor string) (bool, error) {
	var before *entity.Draft

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := s.repo.GetByID(txCtx, draftID)
		if err != nil {
			return err
		}
		before = current
		return s.repo.Delete(txCtx, draftID)
	})
	if err != nil {
		s.logger.Error("Failed to delete draft", "error", err, "draft_id", draftID)
		return false, fmt.Errorf("failed to delete draft %s: %w", draftID, err)
	}

	data := receiptSummary(before)
	data["status_before_delete"] = before.Status.String()
	s.audit.Record(ctx, event.TypeDraftDeleted, actor, draftID, data)
	s.logger.Info("Draft deleted", "draft_id", draftID, "status", before.Status)
	return true, nil
}

// Get returns one draft
func (s *draftServiceImpl) Get(ctx context.Context, draftID string) (*entity.Draft, error) {
	draft, err := s.repo.GetByID(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to get draft %s: %w", draftID, err)
	}
	return draft, nil
}

// List returns drafts matching filter, newest first
func (s *draftServiceImpl) List(ctx context.Context, filter port.DraftFilter) ([]*entity.Draft, error) {
	drafts, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, nil
}

// RecordSendAttempt stores retry bookkeeping; a nil sendErr clears the last error
func (s *draftServiceImpl) RecordSendAttempt(ctx context.Context, draftID string, sendErr error) error {
	msg := ""
	if sendErr != nil {
		msg = sendErr.Error()
	}
	if err := s.repo.RecordSendAttempt(ctx, draftID, msg, s.now()); err != nil {
		return fmt.Errorf("failed to record send attempt for %s: %w", draftID, err)
	}
	return nil
}

func receiptSummary(d *entity.Draft) map[string]interface{} {
	r := d.Receipt
	return map[string]interface{}{
		"image_ref":            d.ImageRef,
		"vendor_name":          r.VendorName,
		"receipt_date":         r.ReceiptDate,
		"total_amount":         r.TotalAmount,
		"business_location_id": r.BusinessLocationID,
		"staff_id":             r.StaffID,
		"invoice_number":       r.InvoiceNumber,
	}
}

func changedFields(before, after entity.Receipt) []string {
	var fields []string
	add := func(name string, differ bool) {
		if differ {
			fields = append(fields, name)
		}
	}
	add("receipt_date", before.ReceiptDate != after.ReceiptDate)
	add("vendor_name", before.VendorName != after.VendorName)
	add("invoice_number", before.InvoiceNumber != after.InvoiceNumber)
	add("total_amount", !nullDecimalEqual(before.TotalAmount, after.TotalAmount))
	add("tax_10_amount", !nullDecimalEqual(before.Tax10Amount, after.Tax10Amount))
	add("tax_8_amount", !nullDecimalEqual(before.Tax8Amount, after.Tax8Amount))
	add("memo", before.Memo != after.Memo)
	add("business_location_id", before.BusinessLocationID != after.BusinessLocationID)
	add("staff_id", before.StaffID != after.StaffID)
	return fields
}

func nullDecimalEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}
