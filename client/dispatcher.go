package client

import "fmt"

// Dispatcher routes incoming envelopes to registered callbacks. Every event
// type defined by the protocol has a slot here; adding one means adding a
// case, checked at compile time against its payload type.
type Dispatcher struct {
	onMessageNew          func(MessageNewEvent)
	onUnreadCount         func(UnreadCountEvent)
	onConversationUpdated func(ConversationUpdatedEvent)
	onError               func(error)
}

func (d *Dispatcher) SetOnMessageNew(fn func(MessageNewEvent)) { d.onMessageNew = fn }
func (d *Dispatcher) SetOnUnreadCount(fn func(UnreadCountEvent)) { d.onUnreadCount = fn }
func (d *Dispatcher) SetOnConversationUpdated(fn func(ConversationUpdatedEvent)) {
	d.onConversationUpdated = fn
}
func (d *Dispatcher) SetOnError(fn func(error)) { d.onError = fn }

// Dispatch decodes and routes one envelope. It reports false for an unknown
// event type so the caller can log it; unknown events never crash the loop.
func (d *Dispatcher) Dispatch(env Envelope) bool {
	switch env.Event {
	case eventMessageNew:
		if d.onMessageNew == nil {
			return true
		}
		var ev MessageNewEvent
		if err := unmarshalData(env.Data, &ev); err != nil {
			d.fireError(fmt.Errorf("decode message_new: %w", err))
			return true
		}
		d.onMessageNew(ev)
	case eventUnreadCount:
		if d.onUnreadCount == nil {
			return true
		}
		var ev UnreadCountEvent
		if err := unmarshalData(env.Data, &ev); err != nil {
			d.fireError(fmt.Errorf("decode unread_count: %w", err))
			return true
		}
		d.onUnreadCount(ev)
	case eventConversationUpdated:
		if d.onConversationUpdated == nil {
			return true
		}
		var ev ConversationUpdatedEvent
		if err := unmarshalData(env.Data, &ev); err != nil {
			d.fireError(fmt.Errorf("decode conversation_updated: %w", err))
			return true
		}
		d.onConversationUpdated(ev)
	default:
		return false
	}
	return true
}

func (d *Dispatcher) fireError(err error) {
	if d.onError != nil && err != nil {
		d.onError(err)
	}
}
