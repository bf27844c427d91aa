package workflow

// DraftLifecycle is the transition table of receipt drafts. SENT has no rules,
// so nothing can be fired from it.
var DraftLifecycle = MustTable(
	Rule{From: StateDraft, Trigger: TriggerEdit, To: StateDraft},
	Rule{From: StateDraft, Trigger: TriggerMarkSent, To: StateSent},
)

// NewDraftMachine returns a machine over DraftLifecycle positioned at current
func NewDraftMachine(current State) (*Machine, error) {
	return DraftLifecycle.Machine(current)
}
