package entity

import "github.com/garyjia/receipt-ledger/internal/domain/workflow"

// Draft status constants
const (
	StatusDraft = workflow.StateDraft
	StatusSent  = workflow.StateSent
)

// Ledger targets
const (
	TargetLocation = "location"
	TargetStaff    = "staff"
)

// LedgerStatus is the outcome of writing one receipt into one ledger
type LedgerStatus string

const (
	LedgerStatusWritten            LedgerStatus = "written"
	LedgerStatusSkippedDuplicate   LedgerStatus = "skipped-duplicate"
	LedgerStatusSkippedMissingData LedgerStatus = "skipped-missing-data"
	LedgerStatusError              LedgerStatus = "error"
)

// IsCommitted reports whether the receipt is in the ledger after this outcome
func (s LedgerStatus) IsCommitted() bool {
	return s == LedgerStatusWritten || s == LedgerStatusSkippedDuplicate
}

// Send result statuses per draft
const (
	SendStatusSent             = "sent"
	SendStatusValidationFailed = "validation_failed"
	SendStatusError            = "error"
)

// Send failure stages
const (
	StageLoad        = "load"
	StageLedgerWrite = "ledger_write"
	StageStateUpdate = "state_update"
)
