package engine

import (
	"errors"
	"fmt"
)

// JobState is a job's position in the run state machine.
type JobState string

const (
	StateInactive  JobState = "inactive"
	StateActive    JobState = "active"
	StatePaused    JobState = "paused"
	StateCompleted JobState = "completed"
	StateStopped   JobState = "stopped"
	StateError     JobState = "error"
)

// ErrInvalidTransition is returned when a state change is not in the
// transition table.
var ErrInvalidTransition = errors.New("invalid job state transition")

var transitions = map[JobState][]JobState{
	StateInactive: {StateActive, StateStopped, StateError},
	StateActive:   {StatePaused, StateCompleted, StateStopped, StateError},
	StatePaused:   {StateActive, StateCompleted, StateStopped},
}

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateStopped || s == StateError
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to JobState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to JobState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
