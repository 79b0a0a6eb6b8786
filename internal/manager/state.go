package manager

import (
	"fmt"
	"slices"

	"github.com/tanq16/keeper/internal/utils"
)

type State string

const (
	StateQueued    State = "queued"
	StateProbing   State = "probing"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

var transitions = map[State][]State{
	StateQueued:  {StateProbing, StateCancelled},
	StateProbing: {StateActive, StatePaused, StateFailed, StateCancelled},
	StateActive:  {StatePaused, StateCompleted, StateFailed, StateCancelled},
	StatePaused:  {StateProbing, StateActive, StateCancelled},
}

func ParseState(s string) (State, error) {
	state := State(s)
	switch state {
	case StateQueued, StateProbing, StateActive, StatePaused, StateCompleted, StateFailed, StateCancelled:
		return state, nil
	}
	return "", fmt.Errorf("%w: unknown state %q", utils.ErrCorruptState, s)
}

// Terminal states admit no transition; only removal.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Running states own network workers.
func (s State) Running() bool {
	return s == StateProbing || s == StateActive
}

func (s State) CanTransition(to State) bool {
	return slices.Contains(transitions[s], to)
}
