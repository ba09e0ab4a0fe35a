package telehealth

import "fmt"

// Event drives a state transition.
type Event string

const (
	EventActivate Event = "activate"
	EventEnd      Event = "end"
	EventCancel   Event = "cancel"
)

// Transition is the only source of new state values. Terminal states reject
// every event. Activating an active session is a no-op so repeated media joins
// do not fail.
func Transition(from State, ev Event) (State, error) {
	if from.Terminal() {
		return from, fmt.Errorf("%w: session is %s", ErrInvalidState, from)
	}
	switch ev {
	case EventActivate:
		switch from {
		case StatePending, StateActive:
			return StateActive, nil
		}
	case EventEnd:
		switch from {
		case StatePending, StateActive:
			return StateEnded, nil
		}
	case EventCancel:
		switch from {
		case StatePending, StateActive:
			return StateCancelled, nil
		}
	}
	return from, fmt.Errorf("%w: cannot %s from %s", ErrInvalidState, ev, from)
}
