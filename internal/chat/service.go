// Package chat is the write/read orchestration layer of the messaging
// engine. Every mutation persists through the stores first and only then
// hands off to the fanout; an event is never emitted for a write that did
// not durably happen.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/parley-im/parley/store/conversation"
	"github.com/parley-im/parley/store/message"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

var ErrSelfTarget = errors.New("target user is the acting user")

// Notifier receives post-persistence hand-offs; satisfied by *fanout.Fanout.
type Notifier interface {
	MessageCreated(msg *message.Message, memberIDs []string)
	ConversationChanged(conversationID string, memberIDs []string)
	UnreadChanged(userID string)
}

// Counter is the unread bookkeeping surface; satisfied by *unread.Counter.
type Counter interface {
	MarkRead(ctx context.Context, userID, conversationID string) error
	Unread(ctx context.Context, m *conversation.Membership) (int, error)
	Total(ctx context.Context, userID string) (int, error)
	Forget(ctx context.Context, userID, conversationID string) error
}

// Service exposes the conversation messaging operations behind the REST
// surface.
type Service struct {
	conversations conversation.Store
	messages      message.Store
	counter       Counter
	notifier      Notifier
	logger        *slog.Logger
}

// NewService creates a Service.
func NewService(conversations conversation.Store, messages message.Store, counter Counter, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		counter:       counter,
		notifier:      notifier,
		logger:        logger,
	}
}

// CreateDirect returns the 1:1 conversation with the participant, creating
// it on first use. Idempotent per unordered pair.
func (s *Service) CreateDirect(ctx context.Context, userID, participantID string) (*conversation.Conversation, bool, error) {
	convo, created, err := s.conversations.GetOrCreateDirect(ctx, userID, participantID)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.notifyMembers(ctx, convo.ID)
	}
	return convo, created, nil
}

// CreateGroup creates a group conversation including the creator.
func (s *Service) CreateGroup(ctx context.Context, creatorID, title string, memberIDs []string) (*conversation.Conversation, error) {
	convo, err := s.conversations.CreateGroup(ctx, creatorID, title, memberIDs)
	if err != nil {
		return nil, err
	}
	s.notifyMembers(ctx, convo.ID)
	return convo, nil
}

// Rename updates the conversation title and hints all members to re-fetch.
func (s *Service) Rename(ctx context.Context, userID, conversationID, title string) error {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := s.conversations.Rename(ctx, conversationID, title); err != nil {
		return err
	}
	s.notifyMembers(ctx, conversationID)
	return nil
}

// AddMembers adds users to a conversation; existing members are unaffected.
func (s *Service) AddMembers(ctx context.Context, userID, conversationID string, addIDs []string) error {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := s.conversations.AddMembers(ctx, conversationID, addIDs); err != nil {
		return err
	}
	s.notifyMembers(ctx, conversationID)
	return nil
}

// RemoveMember removes a user other than the actor from a conversation.
func (s *Service) RemoveMember(ctx context.Context, actorID, conversationID, targetID string) error {
	if targetID == actorID {
		return ErrSelfTarget
	}
	if err := s.requireMember(ctx, conversationID, actorID); err != nil {
		return err
	}
	return s.dropMember(ctx, conversationID, targetID)
}

// Leave removes the acting user from a conversation. A conversation left by
// its last member becomes an orphan; it is never deleted here.
func (s *Service) Leave(ctx context.Context, userID, conversationID string) error {
	return s.dropMember(ctx, conversationID, userID)
}

func (s *Service) dropMember(ctx context.Context, conversationID, targetID string) error {
	if err := s.conversations.RemoveMember(ctx, conversationID, targetID); err != nil {
		return err
	}
	if err := s.counter.Forget(ctx, targetID, conversationID); err != nil {
		s.logger.Warn("failed to drop read cursor",
			"user_id", targetID, "conversation_id", conversationID, "error", err)
	}
	// Only the remaining members are hinted; the departed user's client
	// learns from its own command response.
	s.notifyMembers(ctx, conversationID)
	return nil
}

// SendMessage appends a message and fans out message_new plus fresh unread
// totals to every other member. Persistence is synchronous; delivery is not.
func (s *Service) SendMessage(ctx context.Context, senderID, conversationID, content string) (*message.Message, error) {
	if err := s.requireMember(ctx, conversationID, senderID); err != nil {
		return nil, err
	}

	msg, err := s.messages.Append(ctx, conversationID, senderID, content)
	if err != nil {
		return nil, err
	}

	memberIDs, err := s.conversations.MemberIDs(ctx, conversationID)
	if err != nil {
		// The message is durable; only this delivery round is lost, and
		// clients recover on their next sync.
		s.logger.Warn("skipping fanout, member lookup failed",
			"conversation_id", conversationID, "error", err)
		return msg, nil
	}
	s.notifier.MessageCreated(msg, memberIDs)

	return msg, nil
}

// Messages returns one ascending page of history. A nil before means the
// most recent page.
func (s *Service) Messages(ctx context.Context, userID, conversationID string, before *time.Time, limit int) ([]*message.Message, error) {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.messages.Page(ctx, conversationID, before, limit)
}

// MarkRead advances the user's read cursor and returns the fresh aggregate
// total, saving the follow-up round trip. The total is also pushed so the
// user's other tabs converge.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID string) (int, error) {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	if err := s.counter.MarkRead(ctx, userID, conversationID); err != nil {
		return 0, err
	}

	total, err := s.counter.Total(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.notifier.UnreadChanged(userID)
	return total, nil
}

// TotalUnread returns the user's aggregate badge value.
func (s *Service) TotalUnread(ctx context.Context, userID string) (int, error) {
	return s.counter.Total(ctx, userID)
}

// Conversations returns the user's conversation list, most recent activity
// first, with unread counts filled in.
func (s *Service) Conversations(ctx context.Context, userID string) ([]*conversation.Summary, error) {
	summaries, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	memberships, err := s.conversations.Memberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	byConv := make(map[string]*conversation.Membership, len(memberships))
	for _, m := range memberships {
		byConv[m.ConversationID] = m
	}

	for _, sum := range summaries {
		m, ok := byConv[sum.ID]
		if !ok {
			continue
		}
		n, err := s.counter.Unread(ctx, m)
		if err != nil {
			// Degrade to zero for this row; the next refresh self-heals.
			s.logger.Warn("unread lookup failed",
				"user_id", userID, "conversation_id", sum.ID, "error", err)
			continue
		}
		sum.Unread = n
	}

	return summaries, nil
}

func (s *Service) requireMember(ctx context.Context, conversationID, userID string) error {
	ok, err := s.conversations.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return conversation.ErrNotAMember
	}
	return nil
}

func (s *Service) notifyMembers(ctx context.Context, conversationID string) {
	memberIDs, err := s.conversations.MemberIDs(ctx, conversationID)
	if err != nil {
		s.logger.Warn("skipping conversation_updated, member lookup failed",
			"conversation_id", conversationID, "error", err)
		return
	}
	s.notifier.ConversationChanged(conversationID, memberIDs)
}
