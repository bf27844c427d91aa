package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when the table has no rule for a trigger in the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned for a state outside the lifecycle
	ErrInvalidState = errors.New("invalid state")
)
