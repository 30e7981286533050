package stream

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("stream: invalid state transition")

// State is one step of the session state machine.
type State string

const (
	StateConnected     State = "connected"
	StateAwaitingFrame State = "awaiting_frame"
	StateDeciding      State = "deciding"
	StateResponding    State = "responding"
	StateClosing       State = "closing"
)

var transitions = map[State][]State{
	StateConnected:     {StateAwaitingFrame, StateClosing},
	StateAwaitingFrame: {StateDeciding, StateClosing},
	StateDeciding:      {StateResponding, StateAwaitingFrame, StateClosing},
	StateResponding:    {StateAwaitingFrame, StateClosing},
	StateClosing:       {},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
