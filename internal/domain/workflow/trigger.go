package workflow

// Trigger is an operation that may change a draft's state
type Trigger string

const (
	// TriggerEdit replaces the wrapped receipt; DRAFT stays DRAFT
	TriggerEdit Trigger = "EDIT"

	// TriggerMarkSent commits the draft after both ledger writes succeeded
	TriggerMarkSent Trigger = "MARK_SENT"
)

func (t Trigger) String() string {
	return string(t)
}
