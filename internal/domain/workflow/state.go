package workflow

// State is a lifecycle state of a receipt draft
type State string

const (
	StateDraft State = "DRAFT"
	StateSent  State = "SENT"
)

// IsTerminal reports whether the draft lifecycle allows nothing from s
func (s State) IsTerminal() bool {
	return s.IsValid() && len(DraftLifecycle.Permitted(s)) == 0
}

func (s State) String() string {
	return string(s)
}

// IsValid reports whether s is a known lifecycle state
func (s State) IsValid() bool {
	switch s {
	case StateDraft, StateSent:
		return true
	}
	return false
}
