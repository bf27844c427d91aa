package entity

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/receipt-ledger/internal/domain/workflow"
	"github.com/google/uuid"
)

// Draft wraps one Receipt with its DRAFT/SENT lifecycle and send bookkeeping
type Draft struct {
	DraftID           string         `json:"draft_id"`
	Status            workflow.State `json:"status"`
	Receipt           Receipt        `json:"receipt"`
	ImageRef          string         `json:"image_ref"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	SentAt            *time.Time     `json:"sent_at,omitempty"`
	SendAttemptCount  int            `json:"send_attempt_count"`
	LastSendAttemptAt *time.Time     `json:"last_send_attempt_at,omitempty"`
	LastSendError     string         `json:"last_send_error,omitempty"`
}

// NewDraft creates a DRAFT with a fresh identifier
func NewDraft(receipt Receipt, imageRef string, now time.Time) *Draft {
	now = now.UTC()
	return &Draft{
		DraftID:   uuid.NewString(),
		Status:    StatusDraft,
		Receipt:   receipt.Clone(),
		ImageRef:  imageRef,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsSent reports whether the draft reached its terminal state
func (d *Draft) IsSent() bool {
	return d.Status == StatusSent
}

// ApplyUpdate replaces the wrapped receipt and advances UpdatedAt.
// A SENT draft is left untouched and an ImmutabilityError is returned.
func (d *Draft) ApplyUpdate(receipt Receipt, now time.Time) error {
	if err := d.fire(workflow.TriggerEdit, "updated"); err != nil {
		return err
	}
	d.Receipt = receipt.Clone()
	d.UpdatedAt = advance(d.UpdatedAt, now)
	return nil
}

// MarkSent moves the draft to SENT and stamps SentAt in the same step
func (d *Draft) MarkSent(now time.Time) error {
	if err := d.fire(workflow.TriggerMarkSent, "re-sent"); err != nil {
		return err
	}
	sentAt := now.UTC()
	d.SentAt = &sentAt
	d.UpdatedAt = advance(d.UpdatedAt, now)
	d.LastSendError = ""
	return nil
}

// RecordSendAttempt updates retry bookkeeping; an empty errMsg clears the last error
func (d *Draft) RecordSendAttempt(errMsg string, now time.Time) {
	at := now.UTC()
	d.SendAttemptCount++
	d.LastSendAttemptAt = &at
	d.LastSendError = errMsg
}

// Clone returns a deep copy of the draft
func (d *Draft) Clone() *Draft {
	out := *d
	out.Receipt = d.Receipt.Clone()
	if d.SentAt != nil {
		t := *d.SentAt
		out.SentAt = &t
	}
	if d.LastSendAttemptAt != nil {
		t := *d.LastSendAttemptAt
		out.LastSendAttemptAt = &t
	}
	return &out
}

func (d *Draft) fire(trigger workflow.Trigger, operation string) error {
	machine, err := workflow.NewDraftMachine(d.Status)
	if err != nil {
		return err
	}
	tr, err := machine.Fire(context.Background(), trigger)
	if err != nil {
		if errors.Is(err, workflow.ErrInvalidTransition) && d.Status.IsTerminal() {
			return &ImmutabilityError{DraftID: d.DraftID, Operation: operation}
		}
		return err
	}
	d.Status = tr.To
	return nil
}

// advance guarantees a strictly later timestamp so UpdatedAt always moves forward
func advance(prev, now time.Time) time.Time {
	now = now.UTC()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}
