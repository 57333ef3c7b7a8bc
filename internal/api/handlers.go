package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/parley-im/parley/internal/chat"
	"github.com/parley-im/parley/store/conversation"
	"github.com/parley-im/parley/store/message"
	"github.com/parley-im/parley/store/user"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	newUser := &user.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hashed),
	}
	if err := s.users.Create(r.Context(), newUser); err != nil {
		if errors.Is(err, user.ErrDuplicateUsername) {
			s.writeError(w, http.StatusConflict, "username already exists")
			return
		}
		s.logger.Error("create user failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := s.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			s.writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.issuer.GenerateToken(u.ID, u.Username)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, userID string) {
	summaries, err := s.service.Conversations(r.Context(), userID)
	if err != nil {
		s.logger.Error("list conversations failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if summaries == nil {
		summaries = []*conversation.Summary{}
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		ParticipantUserID string   `json:"participant_user_id"`
		IsGroup           bool     `json:"is_group"`
		Title             string   `json:"title"`
		MemberUserIDs     []string `json:"member_user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.IsGroup {
		if len(req.MemberUserIDs) == 0 {
			s.writeError(w, http.StatusBadRequest, "member_user_ids is required for group conversations")
			return
		}
		convo, err := s.service.CreateGroup(r.Context(), userID, req.Title, req.MemberUserIDs)
		if err != nil {
			s.logger.Error("create group failed", "user_id", userID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to create conversation")
			return
		}
		s.writeJSON(w, http.StatusCreated, convo)
		return
	}

	if req.ParticipantUserID == "" {
		s.writeError(w, http.StatusBadRequest, "participant_user_id is required")
		return
	}
	convo, created, err := s.service.CreateDirect(r.Context(), userID, req.ParticipantUserID)
	if err != nil {
		s.logger.Error("create direct failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, convo)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		s.writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	if err := s.service.Rename(r.Context(), userID, r.PathValue("id"), req.Title); err != nil {
		s.writeServiceError(w, err, "failed to rename conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddMembers(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		AddUserIDs []string `json:"add_user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.AddUserIDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "add_user_ids is required")
		return
	}

	if err := s.service.AddMembers(r.Context(), userID, r.PathValue("id"), req.AddUserIDs); err != nil {
		s.writeServiceError(w, err, "failed to add members")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := s.service.RemoveMember(r.Context(), userID, r.PathValue("id"), req.UserID); err != nil {
		s.writeServiceError(w, err, "failed to remove member")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.service.Leave(r.Context(), userID, r.PathValue("id")); err != nil {
		s.writeServiceError(w, err, "failed to leave conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, userID string) {
	var before *time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid before timestamp")
			return
		}
		before = &parsed
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	msgs, err := s.service.Messages(r.Context(), userID, r.PathValue("id"), before, limit)
	if err != nil {
		s.writeServiceError(w, err, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []*message.Message{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := s.service.SendMessage(r.Context(), userID, r.PathValue("id"), req.Content)
	if err != nil {
		s.writeServiceError(w, err, "failed to send message")
		return
	}
	s.writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, userID string) {
	total, err := s.service.MarkRead(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err, "failed to mark read")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"total": total})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request, userID string) {
	total, err := s.service.TotalUnread(r.Context(), userID)
	if err != nil {
		s.logger.Error("unread total failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute unread count")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"total": total})
}

// writeServiceError maps service sentinels to HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, conversation.ErrNotAMember):
		s.writeError(w, http.StatusForbidden, "not a member of this conversation")
	case errors.Is(err, conversation.ErrConversationNotFound):
		s.writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, message.ErrEmptyContent):
		s.writeError(w, http.StatusBadRequest, "message content is empty")
	case errors.Is(err, chat.ErrSelfTarget):
		s.writeError(w, http.StatusBadRequest, "use leave to remove yourself")
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, fallback)
	}
}
