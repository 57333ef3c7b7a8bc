package api

import (
	"net/http"

	"github.com/parley-im/parley/internal/auth"
)

// handleWS authenticates the bearer token before upgrading, then registers
// the connection as a live session. An invalid token rejects the upgrade
// with 401 rather than failing silently after connect.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
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

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	sess := s.hub.Register(userID, conn)
	go sess.WritePump()
	go sess.ReadPump()
}
