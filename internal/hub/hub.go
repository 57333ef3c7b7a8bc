// Package hub tracks live WebSocket sessions keyed by authenticated user and
// delivers events to them. Delivery is best-effort: durability of the
// underlying facts belongs to the stores, not to the hub.
package hub

import (
	"log/slog"
	"sync"

	"github.com/parley-im/parley/internal/event"
)

// DefaultQueueSize bounds each session's outbound queue.
const DefaultQueueSize = 64

// Hub is the session registry. A user may hold any number of concurrent
// sessions (tabs, devices); all of them are treated symmetrically.
type Hub struct {
	logger    *slog.Logger
	queueSize int

	mu       sync.RWMutex
	nextID   int64
	sessions map[int64]*Session
	byUser   map[string]map[int64]*Session
}

// New creates a hub. queueSize <= 0 falls back to DefaultQueueSize.
func New(logger *slog.Logger, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		logger:    logger,
		queueSize: queueSize,
		sessions:  make(map[int64]*Session),
		byUser:    make(map[string]map[int64]*Session),
	}
}

// Register adds a connection to the user's live session set.
func (h *Hub) Register(userID string, conn Conn) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	s := &Session{
		id:     h.nextID,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, h.queueSize),
		hub:    h,
	}

	h.sessions[s.id] = s
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[int64]*Session)
	}
	h.byUser[userID][s.id] = s

	h.logger.Info("session registered", "user_id", userID, "session_id", s.id)
	return s
}

// Unregister removes a session. Safe to call more than once.
func (h *Hub) Unregister(sessionID int64) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
		if userSessions := h.byUser[s.userID]; userSessions != nil {
			delete(userSessions, sessionID)
			if len(userSessions) == 0 {
				delete(h.byUser, s.userID)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		s.close()
		h.logger.Info("session unregistered", "user_id", s.userID, "session_id", s.id)
	}
}

// Push delivers an event to every live session of the user. A user with no
// sessions is a silent no-op. A session whose queue is full is dropped so the
// caller never blocks on a stalled consumer; the client is expected to
// reconnect and resynchronize.
func (h *Hub) Push(userID string, ev *event.Envelope) {
	h.pushEncoded(userID, ev.Encode())
}

// PushMany delivers an event to every live session of each listed user.
func (h *Hub) PushMany(userIDs []string, ev *event.Envelope) {
	data := ev.Encode()
	for _, userID := range userIDs {
		h.pushEncoded(userID, data)
	}
}

func (h *Hub) pushEncoded(userID string, data []byte) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.byUser[userID]))
	for _, s := range h.byUser[userID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var overflowed []*Session
	for _, s := range targets {
		if !s.enqueue(data) {
			overflowed = append(overflowed, s)
		}
	}

	for _, s := range overflowed {
		h.logger.Warn("session queue overflow, dropping session",
			"user_id", s.userID, "session_id", s.id)
		h.Unregister(s.id)
	}
}

// SessionCount returns the number of live sessions across all users.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// UserSessionCount returns the number of live sessions for one user.
func (h *Hub) UserSessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}
