package message

import (
	"context"
	"errors"
	"time"
)

// Message is one immutable chat message. CreatedAt is assigned by the store
// and is strictly unique within a conversation, so (CreatedAt, ID) gives a
// total order on every read path.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

var ErrEmptyContent = errors.New("message content is empty")

// Store defines message persistence and history reads.
type Store interface {
	// Append persists a new message with a freshly assigned timestamp that is
	// strictly greater than every existing timestamp in the conversation.
	Append(ctx context.Context, conversationID, senderID, content string) (*Message, error)

	// Page returns up to limit messages in ascending (created_at, id) order.
	// A nil before yields the most recent page; otherwise the page of messages
	// immediately preceding the boundary (exclusive). Pages from successive
	// calls never overlap and never gap.
	Page(ctx context.Context, conversationID string, before *time.Time, limit int) ([]*Message, error)

	// CountUnread counts messages after the given cursor not sent by userID.
	CountUnread(ctx context.Context, conversationID, userID string, since time.Time) (int, error)

	// LatestTimestamp returns the created_at of the newest message in the
	// conversation, or the zero time if there are none. Read cursors are
	// set from this value so cursors and messages share one clock.
	LatestTimestamp(ctx context.Context, conversationID string) (time.Time, error)
}
