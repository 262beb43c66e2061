package session

import (
	"sync"

	"github.com/example/ride-lifecycle/internal/observability"
)

// Manager keeps one controller per passenger for the BFF and forwards each
// controller's events to notify.
type Manager struct {
	deps   Deps
	notify func(passengerID string, ev Event)

	mu       sync.Mutex
	sessions map[string]*Controller
}

func NewManager(deps Deps, notify func(passengerID string, ev Event)) *Manager {
	return &Manager{deps: deps, notify: notify, sessions: make(map[string]*Controller)}
}

// Get returns the passenger's controller, creating it on first use. The
// identity details of the first call are kept.
func (m *Manager) Get(sess Context) (*Controller, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.sessions[sess.PassengerID]; ok {
		return c, nil
	}
	c, err := New(sess, m.deps)
	if err != nil {
		return nil, err
	}
	m.sessions[sess.PassengerID] = c
	observability.ActiveSessions.Inc()
	if m.notify != nil {
		go func() {
			for ev := range c.Events() {
				m.notify(sess.PassengerID, ev)
			}
		}()
	}
	return c, nil
}

// Drop closes and forgets the passenger's controller.
func (m *Manager) Drop(passengerID string) {
	m.mu.Lock()
	c, ok := m.sessions[passengerID]
	delete(m.sessions, passengerID)
	m.mu.Unlock()
	if ok {
		c.Close()
		observability.ActiveSessions.Dec()
	}
}

func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()
	for _, c := range all {
		c.Close()
		observability.ActiveSessions.Dec()
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
