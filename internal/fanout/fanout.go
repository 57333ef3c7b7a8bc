// Package fanout turns store writes into pushed events. It is invoked only
// after persistence has succeeded and runs asynchronously relative to the
// REST response: the write path never waits for delivery.
package fanout

import (
	"context"
	"log/slog"
	"time"

	"github.com/parley-im/parley/internal/event"
	"github.com/parley-im/parley/store/message"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
	taskTimeout      = 10 * time.Second
)

// Pusher delivers an event to live sessions; satisfied by *hub.Hub.
type Pusher interface {
	Push(userID string, ev *event.Envelope)
	PushMany(userIDs []string, ev *event.Envelope)
}

// TotalSource recomputes a user's aggregate unread count; satisfied by
// *unread.Counter.
type TotalSource interface {
	Total(ctx context.Context, userID string) (int, error)
}

// Fanout pushes typed events to every affected user on state changes.
type Fanout struct {
	pusher Pusher
	totals TotalSource
	pool   *pool
	logger *slog.Logger
}

// New creates a Fanout with its own worker pool.
func New(pusher Pusher, totals TotalSource, logger *slog.Logger) *Fanout {
	return &Fanout{
		pusher: pusher,
		totals: totals,
		pool:   newPool(defaultWorkers, defaultQueueSize, logger),
		logger: logger,
	}
}

// MessageCreated pushes message_new to every member except the sender, then
// an authoritative unread_count to each recipient. The sender already holds
// the message from the send response.
func (f *Fanout) MessageCreated(msg *message.Message, memberIDs []string) {
	recipients := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id != msg.SenderID {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return
	}

	ev := event.NewMessage(msg.ConversationID, msg)
	f.pool.submit(func(ctx context.Context) {
		f.pusher.PushMany(recipients, ev)
		for _, userID := range recipients {
			f.pushUnread(ctx, userID)
		}
	})
}

// ConversationChanged pushes the thin conversation_updated hint to all
// current members. Receivers re-fetch full state.
func (f *Fanout) ConversationChanged(conversationID string, memberIDs []string) {
	ev := event.NewConversationUpdated(conversationID)
	members := append([]string(nil), memberIDs...)
	f.pool.submit(func(ctx context.Context) {
		f.pusher.PushMany(members, ev)
	})
}

// UnreadChanged recomputes and pushes one user's badge total, e.g. after the
// user marked a conversation read in another tab.
func (f *Fanout) UnreadChanged(userID string) {
	f.pool.submit(func(ctx context.Context) {
		f.pushUnread(ctx, userID)
	})
}

func (f *Fanout) pushUnread(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	total, err := f.totals.Total(ctx, userID)
	if err != nil {
		// The push is skipped, not retried; the next change or reconnect
		// resynchronizes the badge.
		f.logger.Warn("unread recompute failed", "user_id", userID, "error", err)
		return
	}
	f.pusher.Push(userID, event.NewUnreadCount(total))
}

// Shutdown stops the notification workers.
func (f *Fanout) Shutdown() {
	f.pool.shutdown()
}
