// Package status tracks the client's connectivity to the backend.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/nearby/internal/bus"
)

// State represents the connectivity state.
type State string

const (
	Booting State = "BOOTING"
	Offline State = "OFFLINE"
	Online  State = "ONLINE"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting: {Offline, Online},
	Offline: {Online},
	Online:  {Offline},
}

// Machine tracks and enforces connectivity transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsOnline reports whether the backend is currently reachable.
func (m *Machine) IsOnline() bool {
	return m.Current() == Online
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	m.bus.Emit(bus.NetStatusChanged, Change{From: from, To: to})
	return nil
}

// SetOnline moves to Online or Offline. Setting the current state again is a
// no-op and publishes nothing.
func (m *Machine) SetOnline(online bool) {
	to := Offline
	if online {
		to = Online
	}
	if m.Current() == to {
		return
	}
	_ = m.Transition(to)
}

// Change is the payload for connectivity change events.
type Change struct {
	From State
	To   State
}

// CameOnline reports whether the change is a transition into Online.
func (c Change) CameOnline() bool {
	return c.To == Online && c.From != Online
}
