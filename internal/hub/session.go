package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Conn is the transport surface the hub needs from a socket. It is satisfied
// by *websocket.Conn; tests substitute an in-memory fake.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Session is one live connection of one authenticated user. It exists only
// while the socket is open and is never persisted.
type Session struct {
	id     int64
	userID string
	conn   Conn
	send   chan []byte
	hub    *Hub

	mu     sync.Mutex
	closed bool
}

// ID returns the hub-assigned session id.
func (s *Session) ID() int64 { return s.id }

// UserID returns the owning user.
func (s *Session) UserID() string { return s.userID }

// enqueue offers an encoded event to the outbound queue without blocking.
// It reports false only on overflow; a closed session swallows the event,
// matching the best-effort delivery contract.
func (s *Session) enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// ReadPump drains the socket until it closes. The protocol defines no
// client-to-server messages, so inbound frames are discarded; reading is
// still required to process pongs and to notice the close/error signal.
func (s *Session) ReadPump() {
	defer func() {
		s.hub.Unregister(s.id)
		_ = s.conn.Close()
	}()

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// WritePump forwards queued events to the socket and keeps the connection
// alive with pings. It exits when the session is unregistered (send channel
// closed) or the socket errors.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.hub.Unregister(s.id)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.Unregister(s.id)
				return
			}
		}
	}
}
