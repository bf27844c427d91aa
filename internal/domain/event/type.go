package event

// Type identifies the kind of lifecycle transition recorded in the audit trail
type Type string

const (
	TypeDraftCreated         Type = "DRAFT_CREATED"
	TypeDraftUpdated         Type = "DRAFT_UPDATED"
	TypeSendAttempted        Type = "SEND_ATTEMPTED"
	TypeSendValidationFailed Type = "SEND_VALIDATION_FAILED"
	TypeSendSucceeded        Type = "SEND_SUCCEEDED"
	TypeSendFailed           Type = "SEND_FAILED"
	TypeDraftDeleted         Type = "DRAFT_DELETED"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeDraftCreated,
		TypeDraftUpdated,
		TypeSendAttempted,
		TypeSendValidationFailed,
		TypeSendSucceeded,
		TypeSendFailed,
		TypeDraftDeleted:
		return true
	default:
		return false
	}
}
