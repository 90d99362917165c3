package thread

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/periskope/chat/internal/bus"
)

// State represents the lifecycle of the message thread for the
// currently selected chat.
type State string

const (
	// Idle: no chat selected, empty list, no subscription.
	Idle State = "IDLE"
	// Loading: history query in flight, subscription opening.
	Loading State = "LOADING"
	// Live: history loaded; inserts from the feed append to the list.
	Live State = "LIVE"
	// TornDown: subscription closed; reached before any new chat opens.
	TornDown State = "TORN_DOWN"
)

// validTransitions defines allowed state transitions. A selection
// change always passes through TornDown so the old subscription is
// closed before the new one opens.
var validTransitions = map[State][]State{
	Idle:     {Loading},
	Loading:  {Live, TornDown},
	Live:     {TornDown},
	TornDown: {Loading},
}

// Machine tracks and enforces thread state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "thread.state_changed",
			Timestamp: time.Now(),
			Payload: StateChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StateChange is the payload for state change events.
type StateChange struct {
	From State
	To   State
}
