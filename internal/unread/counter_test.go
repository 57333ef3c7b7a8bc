package unread

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parley-im/parley/store/conversation"
)

// Tests in this file need a running Redis. Set TEST_REDIS_ADDR or have one
// listening on localhost:6379; otherwise they are skipped.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 9})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		_ = rdb.FlushDB(context.Background()).Err()
		_ = rdb.Close()
	})
	return rdb
}

type fixedMemberships struct {
	memberships []*conversation.Membership
}

func (f *fixedMemberships) Memberships(context.Context, string) ([]*conversation.Membership, error) {
	return f.memberships, nil
}

// countPerConv answers unread counts from a canned table keyed by
// conversation, pretending every counted message is newer than any cursor
// before `newest` and older than any cursor at or after it. `newest` doubles
// as the LatestTimestamp answer for every conversation.
type countPerConv struct {
	counts map[string]int
	newest time.Time
}

func (c *countPerConv) CountUnread(_ context.Context, conversationID, _ string, since time.Time) (int, error) {
	if !since.Before(c.newest) {
		return 0, nil
	}
	return c.counts[conversationID], nil
}

func (c *countPerConv) LatestTimestamp(context.Context, string) (time.Time, error) {
	return c.newest, nil
}

func newTestCounter(t *testing.T, members MembershipSource, messages MessageSource) *Counter {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCounter(testRedis(t), members, messages, logger)
}

func TestCursorFallsBackToJoinTime(t *testing.T) {
	joined := time.Now().Add(-time.Hour).Truncate(time.Microsecond)
	c := newTestCounter(t, &fixedMemberships{}, &countPerConv{})

	cursor, err := c.Cursor(context.Background(), "alice", "conv-1", joined)
	if err != nil {
		t.Fatalf("cursor failed: %v", err)
	}
	if !cursor.Equal(joined) {
		t.Errorf("expected join-time fallback %v, got %v", joined, cursor)
	}
}

func TestMarkReadAdvancesCursorToNewestMessage(t *testing.T) {
	newest := time.Now().Truncate(time.Microsecond)
	c := newTestCounter(t, &fixedMemberships{}, &countPerConv{newest: newest})
	ctx := context.Background()

	if err := c.MarkRead(ctx, "alice", "conv-1"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}

	cursor, err := c.Cursor(ctx, "alice", "conv-1", time.Time{})
	if err != nil {
		t.Fatalf("cursor failed: %v", err)
	}
	if !cursor.Equal(newest) {
		t.Errorf("expected cursor at newest message %v, got %v", newest, cursor)
	}

	// A second call must not move the cursor or fail.
	if err := c.MarkRead(ctx, "alice", "conv-1"); err != nil {
		t.Fatalf("repeat mark read failed: %v", err)
	}
	again, _ := c.Cursor(ctx, "alice", "conv-1", time.Time{})
	if !again.Equal(cursor) {
		t.Errorf("cursor moved from %v to %v", cursor, again)
	}
}

// The database assigns message timestamps, and its clock may run ahead of
// the app server's. Deriving the cursor from the newest message keeps both
// sides on one clock: a count right after mark-read is always zero.
func TestMarkReadZeroesCountDespiteClockSkew(t *testing.T) {
	newest := time.Now().Add(2 * time.Second).Truncate(time.Microsecond)
	messages := &countPerConv{counts: map[string]int{"conv-1": 1}, newest: newest}
	c := newTestCounter(t, &fixedMemberships{}, messages)
	ctx := context.Background()

	m := &conversation.Membership{
		ConversationID: "conv-1", UserID: "alice",
		JoinedAt: time.Now().Add(-time.Hour),
	}
	n, err := c.Unread(ctx, m)
	if err != nil {
		t.Fatalf("unread failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 unread before mark read, got %d", n)
	}

	if err := c.MarkRead(ctx, "alice", "conv-1"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	n, err = c.Unread(ctx, m)
	if err != nil {
		t.Fatalf("unread failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 unread after mark read, got %d", n)
	}
}

func TestMarkReadWithNoMessagesWritesNothing(t *testing.T) {
	c := newTestCounter(t, &fixedMemberships{}, &countPerConv{})
	ctx := context.Background()

	if err := c.MarkRead(ctx, "alice", "conv-1"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}

	fallback := time.Unix(0, 0)
	cursor, err := c.Cursor(ctx, "alice", "conv-1", fallback)
	if err != nil {
		t.Fatalf("cursor failed: %v", err)
	}
	if !cursor.Equal(fallback) {
		t.Errorf("expected no cursor for an empty conversation, got %v", cursor)
	}
}

// A mark-read racing against a newer one must lose: the compare-and-set in
// Redis rejects the stale timestamp no matter the arrival order.
func TestMarkReadNeverMovesCursorBackward(t *testing.T) {
	messages := &countPerConv{newest: time.Now().Truncate(time.Microsecond)}
	c := newTestCounter(t, &fixedMemberships{}, messages)
	ctx := context.Background()

	if err := c.MarkRead(ctx, "alice", "conv-1"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	newer, _ := c.Cursor(ctx, "alice", "conv-1", time.Time{})

	// Replay a call that read the conversation state before the last message
	// existed.
	messages.newest = messages.newest.Add(-time.Minute)
	if err := c.MarkRead(ctx, "alice", "conv-1"); err != nil {
		t.Fatalf("stale mark read failed: %v", err)
	}

	cursor, err := c.Cursor(ctx, "alice", "conv-1", time.Time{})
	if err != nil {
		t.Fatalf("cursor failed: %v", err)
	}
	if !cursor.Equal(newer) {
		t.Errorf("stale write moved cursor from %v to %v", newer, cursor)
	}
}

func TestCursorIgnoresCorruptValue(t *testing.T) {
	c := newTestCounter(t, &fixedMemberships{}, &countPerConv{})
	ctx := context.Background()
	fallback := time.Now().Truncate(time.Microsecond)

	if err := c.rdb.HSet(ctx, cursorKey("alice"), "conv-1", "not-a-number").Err(); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	cursor, err := c.Cursor(ctx, "alice", "conv-1", fallback)
	if err != nil {
		t.Fatalf("cursor failed: %v", err)
	}
	if !cursor.Equal(fallback) {
		t.Errorf("expected fallback for corrupt value, got %v", cursor)
	}
}

func TestCursorClampsToFallback(t *testing.T) {
	c := newTestCounter(t, &fixedMemberships{}, &countPerConv{})
	ctx := context.Background()

	// A cursor older than the join time must not resurface pre-join history.
	stale := time.Now().Add(-24 * time.Hour)
	if err := c.rdb.HSet(ctx, cursorKey("alice"), "conv-1",
		strconv.FormatInt(stale.UnixMicro(), 10)).Err(); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	joined := time.Now().Add(-time.Hour).Truncate(time.Microsecond)
	cursor, err := c.Cursor(ctx, "alice", "conv-1", joined)
	if err != nil {
		t.Fatalf("cursor failed: %v", err)
	}
	if !cursor.Equal(joined) {
		t.Errorf("expected clamp to join time %v, got %v", joined, cursor)
	}
}

func TestTotalSumsAcrossConversations(t *testing.T) {
	joined := time.Now().Add(-time.Hour)
	members := &fixedMemberships{memberships: []*conversation.Membership{
		{ConversationID: "conv-1", UserID: "alice", JoinedAt: joined},
		{ConversationID: "conv-2", UserID: "alice", JoinedAt: joined},
		{ConversationID: "conv-3", UserID: "alice", JoinedAt: joined},
	}}
	messages := &countPerConv{
		counts: map[string]int{"conv-1": 2, "conv-2": 5},
		newest: time.Now(),
	}
	c := newTestCounter(t, members, messages)
	ctx := context.Background()

	total, err := c.Total(ctx, "alice")
	if err != nil {
		t.Fatalf("total failed: %v", err)
	}
	if total != 7 {
		t.Errorf("expected total 7, got %d", total)
	}

	// Marking one conversation read removes only its contribution.
	if err := c.MarkRead(ctx, "alice", "conv-2"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	total, err = c.Total(ctx, "alice")
	if err != nil {
		t.Fatalf("total failed: %v", err)
	}
	if total != 2 {
		t.Errorf("expected total 2 after mark read, got %d", total)
	}
}

func TestForgetDropsCursor(t *testing.T) {
	c := newTestCounter(t, &fixedMemberships{}, &countPerConv{newest: time.Now()})
	ctx := context.Background()

	if err := c.MarkRead(ctx, "alice", "conv-1"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	if err := c.Forget(ctx, "alice", "conv-1"); err != nil {
		t.Fatalf("forget failed: %v", err)
	}

	fallback := time.Unix(0, 0)
	cursor, err := c.Cursor(ctx, "alice", "conv-1", fallback)
	if err != nil {
		t.Fatalf("cursor failed: %v", err)
	}
	if !cursor.Equal(fallback) {
		t.Errorf("expected fallback after forget, got %v", cursor)
	}
}

// Distinct users never share cursor state.
func TestCursorsAreScopedPerUser(t *testing.T) {
	c := newTestCounter(t, &fixedMemberships{}, &countPerConv{newest: time.Now()})
	ctx := context.Background()

	if err := c.MarkRead(ctx, "alice", "conv-1"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}

	fallback := time.Unix(0, 0)
	cursor, err := c.Cursor(ctx, "bob", "conv-1", fallback)
	if err != nil {
		t.Fatalf("cursor failed: %v", err)
	}
	if !cursor.Equal(fallback) {
		t.Errorf("bob must not see alice's cursor, got %v", cursor)
	}
}
