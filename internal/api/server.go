// Package api exposes the REST surface and the WebSocket upgrade endpoint.
// Writes all go through REST; the socket is server-to-client only.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/parley-im/parley/internal/auth"
	"github.com/parley-im/parley/internal/chat"
	"github.com/parley-im/parley/internal/hub"
	"github.com/parley-im/parley/store/user"
)

// TokenIssuer creates signed tokens at login; satisfied by
// *auth.Authenticator.
type TokenIssuer interface {
	GenerateToken(userID, username string) (string, error)
}

// Server wires the HTTP handlers to the chat service and the hub.
type Server struct {
	service   *chat.Service
	users     user.Store
	issuer    TokenIssuer
	validator auth.Validator
	hub       *hub.Hub
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// NewServer creates a Server.
func NewServer(service *chat.Service, users user.Store, issuer TokenIssuer, validator auth.Validator, h *hub.Hub, logger *slog.Logger) *Server {
	return &Server{
		service:   service,
		users:     users,
		issuer:    issuer,
		validator: validator,
		hub:       h,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The browser client is served from a different origin; auth is
			// carried by the bearer token, not by cookies.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes builds the HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)

	mux.HandleFunc("GET /api/conversations", s.withUser(s.handleListConversations))
	mux.HandleFunc("POST /api/conversations", s.withUser(s.handleCreateConversation))
	mux.HandleFunc("PATCH /api/conversations/{id}", s.withUser(s.handleRename))
	mux.HandleFunc("POST /api/conversations/{id}/members", s.withUser(s.handleAddMembers))
	mux.HandleFunc("POST /api/conversations/{id}/members/remove", s.withUser(s.handleRemoveMember))
	mux.HandleFunc("POST /api/conversations/{id}/leave", s.withUser(s.handleLeave))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.withUser(s.handleListMessages))
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.withUser(s.handleSendMessage))
	mux.HandleFunc("POST /api/conversations/{id}/read", s.withUser(s.handleMarkRead))
	mux.HandleFunc("GET /api/unread_count", s.withUser(s.handleUnreadCount))

	mux.HandleFunc("GET /ws/chat", s.handleWS)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			s.logger.Warn("health check write error", "error", err)
		}
	})

	return mux
}

// withUser authenticates the request and passes the user id through.
// Unauthorized is a distinct 401 signal, never an empty success.
func (s *Server) withUser(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.TokenFromRequest(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.validator.Validate(token)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("response write error", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
