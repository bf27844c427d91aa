package workflow

import (
	"context"
	"fmt"
	"sort"
)

// Rule permits Trigger to move a record from From to To
type Rule struct {
	From    State
	Trigger Trigger
	To      State
}

// Transition is one applied state change
type Transition struct {
	From    State
	To      State
	Trigger Trigger
}

// Table is an immutable transition table. A state with no rules is terminal
// for the table: every trigger fired from it is rejected.
type Table struct {
	rules map[State]map[Trigger]State
}

// NewTable validates rules and builds a Table. A trigger may lead to only one
// target state from a given state.
func NewTable(rules ...Rule) (*Table, error) {
	t := &Table{rules: make(map[State]map[Trigger]State)}

	for _, r := range rules {
		if !r.From.IsValid() || !r.To.IsValid() {
			return nil, fmt.Errorf("%w: rule %s -%s-> %s", ErrInvalidState, r.From, r.Trigger, r.To)
		}
		byTrigger, ok := t.rules[r.From]
		if !ok {
			byTrigger = make(map[Trigger]State)
			t.rules[r.From] = byTrigger
		}
		if prev, dup := byTrigger[r.Trigger]; dup && prev != r.To {
			return nil, fmt.Errorf("trigger %s from %s leads to both %s and %s", r.Trigger, r.From, prev, r.To)
		}
		byTrigger[r.Trigger] = r.To
	}

	return t, nil
}

// MustTable is NewTable for package-level tables; it panics on a bad rule set
func MustTable(rules ...Rule) *Table {
	t, err := NewTable(rules...)
	if err != nil {
		panic(err)
	}
	return t
}

// Machine returns a state machine positioned at current
func (t *Table) Machine(current State) (*Machine, error) {
	if !current.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, current)
	}
	return &Machine{table: t, current: current}, nil
}

// Permitted returns the triggers allowed from state, sorted
func (t *Table) Permitted(from State) []Trigger {
	triggers := make([]Trigger, 0, len(t.rules[from]))
	for trigger := range t.rules[from] {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}

// Machine tracks the state of one record against a Table. It is not safe for
// concurrent use; each record gets its own Machine.
type Machine struct {
	table   *Table
	current State
}

// State returns the current state
func (m *Machine) State() State {
	return m.current
}

// CanFire reports whether trigger is permitted in the current state
func (m *Machine) CanFire(trigger Trigger) bool {
	_, ok := m.table.rules[m.current][trigger]
	return ok
}

// Fire applies trigger and returns the transition taken
func (m *Machine) Fire(ctx context.Context, trigger Trigger) (Transition, error) {
	if err := ctx.Err(); err != nil {
		return Transition{}, err
	}

	to, ok := m.table.rules[m.current][trigger]
	if !ok {
		return Transition{}, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, m.current)
	}

	tr := Transition{From: m.current, To: to, Trigger: trigger}
	m.current = to
	return tr, nil
}

// PermittedTriggers returns the triggers allowed in the current state, sorted
func (m *Machine) PermittedTriggers() []Trigger {
	return m.table.Permitted(m.current)
}
