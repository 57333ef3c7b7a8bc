// Package unread derives per-user unread counts. Read cursors live in Redis
// (one hash per user, field per conversation); counts are always recomputed
// from the message store against the cursor, so the value is a derivable view
// that cannot drift from missed events.
package unread

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parley-im/parley/store/conversation"
)

const cursorKeyPrefix = "parley:cursors:"

// MembershipSource lists a user's memberships; satisfied by conversation.Store.
type MembershipSource interface {
	Memberships(ctx context.Context, userID string) ([]*conversation.Membership, error)
}

// MessageSource reads message counts and timestamps; satisfied by
// message.Store.
type MessageSource interface {
	CountUnread(ctx context.Context, conversationID, userID string, since time.Time) (int, error)
	LatestTimestamp(ctx context.Context, conversationID string) (time.Time, error)
}

// Counter maintains read cursors and answers unread queries.
type Counter struct {
	rdb      *redis.Client
	members  MembershipSource
	messages MessageSource
	logger   *slog.Logger
}

// NewCounter creates a Counter.
func NewCounter(rdb *redis.Client, members MembershipSource, messages MessageSource, logger *slog.Logger) *Counter {
	return &Counter{rdb: rdb, members: members, messages: messages, logger: logger}
}

func cursorKey(userID string) string { return cursorKeyPrefix + userID }

// Cursor returns the user's read cursor for a conversation. A user who has
// never marked the conversation read gets the fallback, which callers set to
// the membership join time.
func (c *Counter) Cursor(ctx context.Context, userID, conversationID string, fallback time.Time) (time.Time, error) {
	val, err := c.rdb.HGet(ctx, cursorKey(userID), conversationID).Result()
	if err == redis.Nil {
		return fallback, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	micros, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// A corrupt field is treated as absent rather than poisoning reads.
		c.logger.Warn("dropping unparseable read cursor",
			"user_id", userID, "conversation_id", conversationID, "value", val)
		return fallback, nil
	}
	cursor := time.UnixMicro(micros)
	if cursor.Before(fallback) {
		return fallback, nil
	}
	return cursor, nil
}

// markReadScript writes the cursor only if it moves forward. Compare and set
// happen in one atomic step inside Redis, so stale writes from a slower tab
// can never land after a newer one. An unparseable stored value is
// overwritten, matching the read side's treat-as-absent handling.
var markReadScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur and tonumber(cur) and tonumber(cur) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// MarkRead advances the cursor to the timestamp of the newest message in the
// conversation. Message timestamps are assigned by the database clock, so
// deriving the cursor from the same source guarantees a count taken right
// after comes back zero regardless of clock skew between the app server and
// the database. Idempotent and monotone: the cursor never moves backward,
// even under concurrent calls from multiple tabs.
func (c *Counter) MarkRead(ctx context.Context, userID, conversationID string) error {
	latest, err := c.messages.LatestTimestamp(ctx, conversationID)
	if err != nil {
		return err
	}
	if latest.IsZero() {
		// No messages yet, so there is nothing a cursor could hide.
		return nil
	}
	return markReadScript.Run(ctx, c.rdb, []string{cursorKey(userID)},
		conversationID, strconv.FormatInt(latest.UnixMicro(), 10)).Err()
}

// Unread computes the count of unseen messages for one membership.
func (c *Counter) Unread(ctx context.Context, m *conversation.Membership) (int, error) {
	cursor, err := c.Cursor(ctx, m.UserID, m.ConversationID, m.JoinedAt)
	if err != nil {
		return 0, err
	}
	return c.messages.CountUnread(ctx, m.ConversationID, m.UserID, cursor)
}

// Total sums unread counts over every conversation the user belongs to.
// This is the aggregate pushed as the badge value after every change.
func (c *Counter) Total(ctx context.Context, userID string) (int, error) {
	memberships, err := c.members.Memberships(ctx, userID)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, m := range memberships {
		n, err := c.Unread(ctx, m)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Forget drops the cursor for a conversation the user has left. Best-effort;
// a stale cursor only wastes a hash field.
func (c *Counter) Forget(ctx context.Context, userID, conversationID string) error {
	return c.rdb.HDel(ctx, cursorKey(userID), conversationID).Err()
}
