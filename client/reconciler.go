package client

import (
	"context"
	"sync"
	"time"

	"github.com/parley-im/parley/client/rest"
)

// View is the reconciler's authoritative local state, built from the last
// REST snapshot and updated by events. It is an explicit value owned by the
// Reconciler; handlers receive copies, never shared ambient globals.
type View struct {
	Conversations []rest.Conversation
	// ActiveConversationID is the conversation currently open, if any.
	ActiveConversationID string
	// Messages is the ascending history of the active conversation.
	Messages []rest.Message
	// UnreadTotal is the aggregate badge value.
	UnreadTotal int
	// EndOfHistory reports that paging back reached the beginning. Sticky
	// for the lifetime of this conversation view.
	EndOfHistory bool
}

// Reconciler merges the REST snapshot with the live event stream and keeps
// the conversation list, the active thread, and the badge consistent. Every
// event is treated as a trigger to reconcile, not as an ordered patch:
// duplicates and reordering are harmless because conversation_updated always
// re-fetches and unread_count always carries the authoritative total.
type Reconciler struct {
	api      *rest.Client
	ws       *Client
	logger   Logger
	pageSize int

	mu         sync.Mutex
	view       View
	oldestSeen *time.Time
	onChange   func(View)
}

// NewReconciler builds a reconciler over a fresh REST and WebSocket client.
func NewReconciler(cfg Config) *Reconciler {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}

	api := rest.NewClient(cfg.BaseURL)
	api.SetToken(cfg.Token)

	r := &Reconciler{
		api:      api,
		ws:       NewClient(cfg),
		logger:   noopLogger{},
		pageSize: cfg.PageSize,
	}

	r.ws.OnMessageNew(r.handleMessageNew)
	r.ws.OnUnreadCount(r.handleUnreadCount)
	r.ws.OnConversationUpdated(r.handleConversationUpdated)
	r.ws.OnConnected(func(ctx context.Context) { r.Resync(ctx) })

	return r
}

// SetLogger overrides the logger on the reconciler and its socket client.
func (r *Reconciler) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
		r.ws.SetLogger(l)
	}
}

// OnChange registers a callback fired with a snapshot after every view
// mutation. The UI layer renders from these snapshots. Safe to call after
// Start.
func (r *Reconciler) OnChange(fn func(View)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// OnStateChange exposes connection state transitions.
func (r *Reconciler) OnStateChange(fn func(StateEvent)) { r.ws.OnStateChange(fn) }

// REST returns the underlying REST client for calls outside the reconciled
// view, such as account registration.
func (r *Reconciler) REST() *rest.Client { return r.api }

// Start connects the event socket. The initial resynchronization runs
// through the OnConnected hook, exactly as it does after a reconnect.
func (r *Reconciler) Start(ctx context.Context) error {
	return r.ws.Connect(ctx)
}

// Close shuts down the socket. The last-known view stays readable: a user
// who loses connectivity keeps stale state visible, never a blank screen.
func (r *Reconciler) Close() error { return r.ws.Close() }

// Snapshot returns a copy of the current view.
func (r *Reconciler) Snapshot() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reconciler) snapshotLocked() View {
	v := r.view
	v.Conversations = append([]rest.Conversation(nil), r.view.Conversations...)
	v.Messages = append([]rest.Message(nil), r.view.Messages...)
	return v
}

func (r *Reconciler) notify() {
	var (
		fn func(View)
		v  View
	)
	r.mu.Lock()
	fn = r.onChange
	if fn != nil {
		v = r.snapshotLocked()
	}
	r.mu.Unlock()
	if fn != nil {
		fn(v)
	}
}

// Resync re-fetches everything the view depends on: the conversation list,
// the unread total, and, if a conversation is open, its latest page from
// scratch. This is the whole recovery story after a missed event or a
// reconnect; there is no event replay.
func (r *Reconciler) Resync(ctx context.Context) {
	r.refreshList(ctx)
	r.refreshUnread(ctx)

	r.mu.Lock()
	active := r.view.ActiveConversationID
	r.mu.Unlock()
	if active != "" {
		r.reloadThread(ctx, active)
	}
}

// OpenConversation makes a conversation the active thread, loads its latest
// page, and marks it read.
func (r *Reconciler) OpenConversation(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	r.view.ActiveConversationID = conversationID
	r.view.Messages = nil
	r.view.EndOfHistory = false
	r.oldestSeen = nil
	r.mu.Unlock()

	if err := r.reloadThread(ctx, conversationID); err != nil {
		return err
	}
	return r.markActiveRead(ctx, conversationID)
}

// CloseConversation clears the active thread.
func (r *Reconciler) CloseConversation() {
	r.mu.Lock()
	r.view.ActiveConversationID = ""
	r.view.Messages = nil
	r.view.EndOfHistory = false
	r.oldestSeen = nil
	r.mu.Unlock()
	r.notify()
}

// LoadOlder fetches the page preceding the oldest message seen. Once a
// short page signals the start of history the signal is sticky: further
// calls are no-ops until another conversation is opened.
func (r *Reconciler) LoadOlder(ctx context.Context) error {
	r.mu.Lock()
	active := r.view.ActiveConversationID
	done := r.view.EndOfHistory
	before := r.oldestSeen
	r.mu.Unlock()

	if active == "" || done {
		return nil
	}

	msgs, err := r.api.Messages(ctx, active, before, r.pageSize)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.view.ActiveConversationID == active {
		r.view.Messages = append(append([]rest.Message(nil), msgs...), r.view.Messages...)
		if len(msgs) > 0 {
			oldest := msgs[0].CreatedAt
			r.oldestSeen = &oldest
		}
		if len(msgs) < r.pageSize {
			r.view.EndOfHistory = true
		}
	}
	r.mu.Unlock()
	r.notify()
	return nil
}

// Send appends a message to the active conversation. The persisted copy
// from the response lands in the view directly; the server does not echo
// message_new back to the sender.
func (r *Reconciler) Send(ctx context.Context, content string) (*rest.Message, error) {
	r.mu.Lock()
	active := r.view.ActiveConversationID
	r.mu.Unlock()

	msg, err := r.api.SendMessage(ctx, active, content)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.view.ActiveConversationID == active {
		r.view.Messages = append(r.view.Messages, *msg)
	}
	r.mu.Unlock()
	r.notify()

	r.refreshList(ctx)
	return msg, nil
}

// RenameConversation issues the rename command and refreshes the list. The
// conversation_updated event that follows is a harmless duplicate hint.
func (r *Reconciler) RenameConversation(ctx context.Context, conversationID, title string) error {
	if err := r.api.Rename(ctx, conversationID, title); err != nil {
		return err
	}
	r.refreshList(ctx)
	return nil
}

// AddMembers issues the add-members command and refreshes the list.
func (r *Reconciler) AddMembers(ctx context.Context, conversationID string, userIDs []string) error {
	if err := r.api.AddMembers(ctx, conversationID, userIDs); err != nil {
		return err
	}
	r.refreshList(ctx)
	return nil
}

// LeaveConversation issues the leave command, drops the thread if it was
// open, and refreshes the list and badge.
func (r *Reconciler) LeaveConversation(ctx context.Context, conversationID string) error {
	if err := r.api.Leave(ctx, conversationID); err != nil {
		return err
	}

	r.mu.Lock()
	if r.view.ActiveConversationID == conversationID {
		r.view.ActiveConversationID = ""
		r.view.Messages = nil
		r.view.EndOfHistory = false
		r.oldestSeen = nil
	}
	r.mu.Unlock()

	r.refreshList(ctx)
	r.refreshUnread(ctx)
	return nil
}

func (r *Reconciler) handleMessageNew(ev MessageNewEvent) {
	ctx := context.Background()

	r.mu.Lock()
	active := r.view.ActiveConversationID
	if ev.ConversationID == active {
		r.view.Messages = append(r.view.Messages, ev.Message)
	}
	r.mu.Unlock()
	r.notify()

	if ev.ConversationID == active {
		// Reading the open thread: acknowledge immediately. The response
		// already carries the fresh total.
		if err := r.markActiveRead(ctx, ev.ConversationID); err != nil {
			r.logger.Warn("mark read after push failed", "error", err)
		}
	}
	// The list preview and ordering come from a refresh, not a local patch.
	r.refreshList(ctx)
}

func (r *Reconciler) handleUnreadCount(ev UnreadCountEvent) {
	r.mu.Lock()
	r.view.UnreadTotal = ev.Total
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) handleConversationUpdated(ev ConversationUpdatedEvent) {
	// Thin hint: re-fetch, never patch. Arbitrary duplication and reordering
	// of these events converge to the same state.
	r.refreshList(context.Background())
}

func (r *Reconciler) reloadThread(ctx context.Context, conversationID string) error {
	msgs, err := r.api.Messages(ctx, conversationID, nil, r.pageSize)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.view.ActiveConversationID == conversationID {
		r.view.Messages = append([]rest.Message(nil), msgs...)
		r.view.EndOfHistory = len(msgs) < r.pageSize
		r.oldestSeen = nil
		if len(msgs) > 0 {
			oldest := msgs[0].CreatedAt
			r.oldestSeen = &oldest
		}
	}
	r.mu.Unlock()
	r.notify()
	return nil
}

func (r *Reconciler) markActiveRead(ctx context.Context, conversationID string) error {
	total, err := r.api.MarkRead(ctx, conversationID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.view.UnreadTotal = total
	r.mu.Unlock()
	r.notify()
	return nil
}

// refreshList re-fetches the conversation list. On failure the stale list
// stays visible; the next event or resync self-heals.
func (r *Reconciler) refreshList(ctx context.Context) {
	convs, err := r.api.Conversations(ctx)
	if err != nil {
		r.logger.Warn("conversation list refresh failed", "error", err)
		return
	}
	r.mu.Lock()
	r.view.Conversations = convs
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) refreshUnread(ctx context.Context) {
	total, err := r.api.UnreadCount(ctx)
	if err != nil {
		r.logger.Warn("unread total refresh failed", "error", err)
		return
	}
	r.mu.Lock()
	r.view.UnreadTotal = total
	r.mu.Unlock()
	r.notify()
}
