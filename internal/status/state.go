package status

import (
	"fmt"
	"slices"
	"sync"
)

// State represents a sync engine runtime state.
type State string

const (
	Idle    State = "IDLE"
	Syncing State = "SYNCING"
	Error   State = "ERROR"
)

// validTransitions defines allowed state transitions. A sync pass moves
// Idle -> Syncing -> Idle on success or Syncing -> Error on failure; a later
// pass may retry out of Error.
var validTransitions = map[State][]State{
	Idle:    {Syncing},
	Syncing: {Idle, Error},
	Error:   {Syncing},
}

// Machine tracks and enforces sync state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine() *Machine {
	return &Machine{current: Idle}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid; the state is left unchanged in that case.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	m.current = to
	return nil
}
