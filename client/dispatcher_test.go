package client

import (
	"encoding/json"
	"testing"
	"time"
)

func envelope(t *testing.T, event string, data any) Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return Envelope{Event: event, Data: raw}
}

func TestDispatchMessageNew(t *testing.T) {
	var got MessageNewEvent
	d := &Dispatcher{}
	d.SetOnMessageNew(func(ev MessageNewEvent) { got = ev })

	sent := MessageNewEvent{
		ConversationID: "conv-1",
	}
	sent.Message.ID = "msg-1"
	sent.Message.SenderID = "alice"
	sent.Message.Content = "Hello"
	sent.Message.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)

	if !d.Dispatch(envelope(t, eventMessageNew, sent)) {
		t.Fatal("expected message_new to be recognized")
	}
	if got.ConversationID != "conv-1" || got.Message.Content != "Hello" {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestDispatchUnreadCount(t *testing.T) {
	var got *UnreadCountEvent
	d := &Dispatcher{}
	d.SetOnUnreadCount(func(ev UnreadCountEvent) { got = &ev })

	if !d.Dispatch(envelope(t, eventUnreadCount, UnreadCountEvent{Total: 5})) {
		t.Fatal("expected unread_count to be recognized")
	}
	if got == nil || got.Total != 5 {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestDispatchConversationUpdated(t *testing.T) {
	var got *ConversationUpdatedEvent
	d := &Dispatcher{}
	d.SetOnConversationUpdated(func(ev ConversationUpdatedEvent) { got = &ev })

	if !d.Dispatch(envelope(t, eventConversationUpdated, ConversationUpdatedEvent{ConversationID: "conv-9"})) {
		t.Fatal("expected conversation_updated to be recognized")
	}
	if got == nil || got.ConversationID != "conv-9" {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestDispatchUnknownEvent(t *testing.T) {
	d := &Dispatcher{}
	if d.Dispatch(Envelope{Event: "presence_changed"}) {
		t.Error("unknown events must report false, not crash or swallow silently")
	}
}

func TestDispatchWithoutCallbackIsHarmless(t *testing.T) {
	d := &Dispatcher{}
	if !d.Dispatch(envelope(t, eventUnreadCount, UnreadCountEvent{Total: 1})) {
		t.Error("a registered event type without a callback is still recognized")
	}
}

func TestDispatchMalformedPayloadFiresError(t *testing.T) {
	var fired error
	d := &Dispatcher{}
	d.SetOnUnreadCount(func(UnreadCountEvent) { t.Error("callback must not fire on a malformed payload") })
	d.SetOnError(func(err error) { fired = err })

	if !d.Dispatch(Envelope{Event: eventUnreadCount, Data: json.RawMessage(`{"total":`)}) {
		t.Fatal("malformed payloads are still recognized events")
	}
	if fired == nil {
		t.Error("expected the decode error to be surfaced")
	}
}
