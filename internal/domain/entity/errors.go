package entity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDraftNotFound is returned when an operation names a draft that does not exist
	ErrDraftNotFound = errors.New("draft not found")

	// ErrImmutable matches every ImmutabilityError through errors.Is
	ErrImmutable = errors.New("draft is immutable")

	// ErrStorageContention is returned once the retry policy gives up on a busy store
	ErrStorageContention = errors.New("storage contention")

	// ErrLedgerWrite matches every LedgerWriteError through errors.Is
	ErrLedgerWrite = errors.New("ledger write failed")

	// ErrDuplicateImageRef is returned when a second DRAFT is stored for one image_ref
	ErrDuplicateImageRef = errors.New("a draft already exists for this image")

	// ErrValidation matches every ValidationError through errors.Is
	ErrValidation = errors.New("draft is not ready to send")
)

// ImmutabilityError reports an attempt to mutate or re-send a SENT draft
type ImmutabilityError struct {
	DraftID   string
	Operation string
}

func (e *ImmutabilityError) Error() string {
	return fmt.Sprintf("draft %s is SENT and cannot be %s", e.DraftID, e.Operation)
}

// Is implements errors.Is matching against ErrImmutable
func (e *ImmutabilityError) Is(target error) bool {
	return target == ErrImmutable
}

// ValidationError lists every READY-TO-SEND rule a draft violated
type ValidationError struct {
	DraftID    string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("draft %s failed validation: %s", e.DraftID, strings.Join(e.Violations, "; "))
}

// Is implements errors.Is matching against ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// LedgerWriteError wraps a failure writing one receipt into one ledger document
type LedgerWriteError struct {
	Target   string
	Identity string
	Err      error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("%s ledger %q: %v", e.Target, e.Identity, e.Err)
}

func (e *LedgerWriteError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is matching against ErrLedgerWrite
func (e *LedgerWriteError) Is(target error) bool {
	return target == ErrLedgerWrite
}

// AuditWriteError wraps a failure persisting an audit event. It is logged, never returned
// to the caller of a business operation.
type AuditWriteError struct {
	EventID string
	Err     error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit event %s not written: %v", e.EventID, e.Err)
}

func (e *AuditWriteError) Unwrap() error {
	return e.Err
}
