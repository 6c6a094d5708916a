package state

import (
	"errors"
	"sync"
)

// State is one node of a Machine. Hooks run after the switch, outside the lock.
type State interface {
	GetID() string
	OnEnter()
	OnExit()
}

// Guard decides whether an edge may be taken right now.
type Guard func() bool

var (
	// ErrTransitionNotAllowed is returned when a guard rejects the edge.
	ErrTransitionNotAllowed = errors.New("state transition not allowed")
	// ErrUnknownState is returned for ids that were never registered.
	ErrUnknownState = errors.New("unknown state")
)

type edge struct {
	from, to string
}

// Machine is a small id-keyed state machine. Edges without a guard are open.
type Machine struct {
	mutex   sync.RWMutex
	current State
	states  map[string]State
	guards  map[edge]Guard
	// 最近的转换记录
	history []string
	keep    int
}

// NewMachine registers states and enters the first one.
func NewMachine(initial State, others ...State) *Machine {
	m := &Machine{
		current: initial,
		states:  map[string]State{initial.GetID(): initial},
		guards:  make(map[edge]Guard),
		history: []string{initial.GetID()},
		keep:    16,
	}
	for _, s := range others {
		m.states[s.GetID()] = s
	}
	initial.OnEnter()
	return m
}

// Guard installs guard on the from -> to edge, replacing any previous one.
func (m *Machine) Guard(from, to string, guard Guard) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.states[from]; !ok {
		return ErrUnknownState
	}
	if _, ok := m.states[to]; !ok {
		return ErrUnknownState
	}
	m.guards[edge{from, to}] = guard
	return nil
}

// Forbid closes the from -> to edge for good.
func (m *Machine) Forbid(from, to string) error {
	return m.Guard(from, to, func() bool { return false })
}

// Enter moves to the state registered as id. Re-entering the current state is a no-op.
func (m *Machine) Enter(id string) error {
	m.mutex.Lock()
	next, ok := m.states[id]
	if !ok {
		m.mutex.Unlock()
		return ErrUnknownState
	}
	prev := m.current
	if prev.GetID() == id {
		m.mutex.Unlock()
		return nil
	}
	if guard := m.guards[edge{prev.GetID(), id}]; guard != nil && !guard() {
		m.mutex.Unlock()
		return ErrTransitionNotAllowed
	}
	m.current = next
	m.history = append(m.history, id)
	if len(m.history) > m.keep {
		m.history = m.history[len(m.history)-m.keep:]
	}
	m.mutex.Unlock()

	prev.OnExit()
	next.OnEnter()
	return nil
}

// Current returns the id of the active state.
func (m *Machine) Current() string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current.GetID()
}

// History returns the most recent state ids, oldest first.
func (m *Machine) History() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]string, len(m.history))
	copy(out, m.history)
	return out
}
