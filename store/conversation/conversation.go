package conversation

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Conversation represents a chat thread between users, either 1:1 or group.
type Conversation struct {
	ID        string    `json:"id"`
	IsGroup   bool      `json:"is_group"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership ties a user to a conversation. JoinedAt doubles as the default
// read cursor for the member.
type Membership struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
}

// Preview is the last message of a conversation, shown in the list view.
type Preview struct {
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is one row of a user's conversation list: the conversation, its
// per-user display title, the last message, and the unread count. Unread is
// filled in by the caller; the store has no access to read cursors.
type Summary struct {
	Conversation
	DisplayTitle string    `json:"display_title"`
	Preview      *Preview  `json:"preview,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	Unread       int       `json:"unread"`
}

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotAMember           = errors.New("user is not a member of the conversation")
)

// DirectKey identifies a 1:1 conversation by its unordered member pair.
// The unique index on this key is what makes get-or-create race-safe.
func DirectKey(userA, userB string) string {
	if strings.Compare(userA, userB) > 0 {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}

// Store defines conversation and membership persistence operations.
type Store interface {
	// GetOrCreateDirect returns the 1:1 conversation between the two users,
	// creating it if absent. At most one conversation exists per unordered
	// pair, even under concurrent calls from both members. The bool reports
	// whether this call created it.
	GetOrCreateDirect(ctx context.Context, userA, userB string) (*Conversation, bool, error)

	// CreateGroup creates a conversation plus one membership per id, creator
	// included. Title may be empty; display fallback applies.
	CreateGroup(ctx context.Context, creatorID, title string, memberIDs []string) (*Conversation, error)

	Get(ctx context.Context, id string) (*Conversation, error)
	Rename(ctx context.Context, id, title string) error

	AddMembers(ctx context.Context, id string, userIDs []string) error
	RemoveMember(ctx context.Context, id, userID string) error
	IsMember(ctx context.Context, id, userID string) (bool, error)
	MemberIDs(ctx context.Context, id string) ([]string, error)

	// Memberships returns every membership of the user, for unread totals.
	Memberships(ctx context.Context, userID string) ([]*Membership, error)

	// ListForUser returns the user's conversations ordered by most recent
	// activity, each annotated with display title and last-message preview.
	ListForUser(ctx context.Context, userID string) ([]*Summary, error)
}
