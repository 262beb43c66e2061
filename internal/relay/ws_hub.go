package relay

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrNoSession = errors.New("no ws session")

// conn is the part of *websocket.Conn the hub uses.
type conn interface {
	WriteJSON(v any) error
	Close() error
}

// WSSession is one connected passenger client.
type WSSession struct {
	conn conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Hub holds the live websocket of each passenger. A new connection replaces
// and closes the previous one.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{sessions: make(map[string]*WSSession), logger: logger}
}

func (h *Hub) Add(passengerID string, c *websocket.Conn) *WSSession {
	return h.add(passengerID, c)
}

func (h *Hub) add(passengerID string, c conn) *WSSession {
	s := &WSSession{conn: c}
	h.mu.Lock()
	old := h.sessions[passengerID]
	h.sessions[passengerID] = s
	h.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
	return s
}

// Remove drops s if it is still the passenger's current session.
func (h *Hub) Remove(passengerID string, s *WSSession) {
	h.mu.Lock()
	if h.sessions[passengerID] == s {
		delete(h.sessions, passengerID)
	}
	h.mu.Unlock()
	_ = s.conn.Close()
}

func (h *Hub) Send(passengerID string, v any) error {
	h.mu.RLock()
	s, ok := h.sessions[passengerID]
	h.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(v); err != nil {
		h.logger.Warn("ws send failed", "passenger_id", passengerID, "error", err)
		h.Remove(passengerID, s)
		return err
	}
	return nil
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
