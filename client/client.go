package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/parley-im/parley/client/rest"
)

var ErrAlreadyConnected = errors.New("already connected")

// Client owns the event socket: it dials, reads envelopes, dispatches them,
// and reconnects with exponential backoff when the connection drops. There
// is no sequence-numbered resume; after every successful (re)connect the
// OnConnected hook fires so the owner can resynchronize from REST.
type Client struct {
	cfg        Config
	logger     Logger
	dispatcher Dispatcher

	onState     func(StateEvent)
	onConnected func(context.Context)

	mu     sync.Mutex
	state  ConnectionState
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewClient constructs a client with the provided config.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		logger: noopLogger{},
	}
}

// SetLogger overrides the logger (optional). Must be called before Connect.
func (c *Client) SetLogger(l Logger) {
	if l != nil {
		c.logger = l
	}
}

// Event callbacks route through the dispatcher, which the read loop consults
// without locking. Register them before Connect.

// OnMessageNew registers the callback for message_new events.
func (c *Client) OnMessageNew(fn func(MessageNewEvent)) { c.dispatcher.SetOnMessageNew(fn) }

// OnUnreadCount registers the callback for unread_count events.
func (c *Client) OnUnreadCount(fn func(UnreadCountEvent)) { c.dispatcher.SetOnUnreadCount(fn) }

// OnConversationUpdated registers the callback for conversation_updated events.
func (c *Client) OnConversationUpdated(fn func(ConversationUpdatedEvent)) {
	c.dispatcher.SetOnConversationUpdated(fn)
}

// OnError registers the callback for decode and read errors.
func (c *Client) OnError(fn func(error)) { c.dispatcher.SetOnError(fn) }

// OnStateChange registers the callback for connection state transitions.
// Safe to call after Connect.
func (c *Client) OnStateChange(fn func(StateEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// OnConnected registers the resynchronization hook, invoked after every
// successful connect, including reconnects. Safe to call after Connect.
func (c *Client) OnConnected(fn func(context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = fn
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the server and starts the read/reconnect loop. The first
// dial error is returned directly; later drops are handled by backoff.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting || c.state == StateReconnecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()
	c.setState(StateConnecting, nil)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected, err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	onConnected := c.onConnected
	c.mu.Unlock()
	c.setState(StateConnected, nil)

	if onConnected != nil {
		onConnected(runCtx)
	}

	go c.run(runCtx)
	return nil
}

// Close shuts the client down. The read loop exits and no reconnect is
// attempted.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.setState(StateClosed, nil)
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client close")
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.Dial(dialCtx, c.cfg.wsURL()+"?token="+c.cfg.Token, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			// A rejected upgrade is an auth failure, not a network blip.
			return nil, rest.ErrUnauthorized
		}
		return nil, err
	}
	return conn, nil
}

func (c *Client) run(ctx context.Context) {
	for {
		err := c.readLoop(ctx)
		if ctx.Err() != nil || isNormalClose(err) {
			return
		}

		c.logger.Warn("connection lost, reconnecting", "error", err)
		c.setState(StateReconnecting, err)
		if !c.reconnect(ctx) {
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("no connection")
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// A malformed frame is ignored, never fatal to the loop.
			c.logger.Warn("discarding malformed event", "error", err)
			c.dispatcher.fireError(err)
			continue
		}
		if !c.dispatcher.Dispatch(env) {
			c.logger.Warn("ignoring unknown event", "event", env.Event)
		}
	}
}

// reconnect retries the dial with exponential backoff until it succeeds or
// the client is closed. On success it fires the resynchronization hook.
func (c *Client) reconnect(ctx context.Context) bool {
	backoff := c.cfg.MinBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		conn, err := c.dial(ctx)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			onConnected := c.onConnected
			c.mu.Unlock()
			c.setState(StateConnected, nil)
			if onConnected != nil {
				onConnected(ctx)
			}
			return true
		}

		c.logger.Warn("reconnect attempt failed", "error", err, "backoff", backoff)
		backoff *= 2
		if max := c.cfg.MaxBackoff; max > 0 && backoff > max {
			backoff = max
		}
	}
}

func (c *Client) setState(next ConnectionState, err error) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	fn := c.onState
	c.mu.Unlock()

	if fn != nil && prev != next {
		fn(StateEvent{OldState: prev, NewState: next, Err: err})
	}
}

func isNormalClose(err error) bool {
	if err == nil {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}
