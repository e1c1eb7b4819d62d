package dispatch

import (
	"errors"
	"log"
	"sync"

	"github.com/example/fleet-dispatch/internal/models"
	"github.com/gorilla/websocket"
)

// wsConn is the send surface a session needs; *websocket.Conn satisfies it.
type wsConn interface {
	WriteJSON(v interface{}) error
}

// WSSession represents a connected operator session
type WSSession struct {
	conn wsConn
	mu   sync.Mutex
}

func (s *WSSession) Send(alert models.OfferAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(alert)
}

// WSRegistry holds operator sessions for offer push. Push is best-effort;
// operators without a live session fall back to polling their alerts.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(operatorID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[operatorID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(operatorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, operatorID)
}

func (r *WSRegistry) Offer(operatorID string, alert models.OfferAlert) error {
	r.mu.RLock()
	s, ok := r.sessions[operatorID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(alert); err != nil {
		log.Printf("ws send error: %v", err)
		// a failed write means the peer is gone; drop the session so the
		// registry does not accumulate dead connections
		r.Remove(operatorID)
		return err
	}
	return nil
}

var ErrNoSession = errors.New("no ws session")
