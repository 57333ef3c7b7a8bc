// Package event defines the server-to-client push protocol: a closed set of
// event types wrapped in a common envelope. Events are hints to resynchronize,
// not a durable log: they carry no sequence numbers, and apart from
// message_new their payloads are intentionally thin.
package event

import (
	"encoding/json"

	"github.com/parley-im/parley/store/message"
)

// Type identifies an event kind on the wire.
type Type string

const (
	TypeMessageNew          Type = "message_new"
	TypeUnreadCount         Type = "unread_count"
	TypeConversationUpdated Type = "conversation_updated"
)

// Envelope is the wire format pushed over the WebSocket.
type Envelope struct {
	Event Type            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// MessageNewData carries the full message. It is the one payload a client may
// apply directly without a follow-up fetch.
type MessageNewData struct {
	ConversationID string           `json:"conversation_id"`
	Message        *message.Message `json:"message"`
}

// UnreadCountData is the authoritative aggregate badge total for one user.
type UnreadCountData struct {
	Total int `json:"total"`
}

// ConversationUpdatedData names a conversation whose title or membership
// changed. Receivers re-fetch; the event never embeds a diff.
type ConversationUpdatedData struct {
	ConversationID string `json:"conversation_id"`
}

func newEnvelope(t Type, data any) *Envelope {
	raw, err := json.Marshal(data)
	if err != nil {
		// All payloads are plain structs; marshal cannot fail for them.
		panic("event: marshal payload: " + err.Error())
	}
	return &Envelope{Event: t, Data: raw}
}

// NewMessage builds a message_new envelope for one persisted message.
func NewMessage(conversationID string, msg *message.Message) *Envelope {
	return newEnvelope(TypeMessageNew, MessageNewData{ConversationID: conversationID, Message: msg})
}

// NewUnreadCount builds an unread_count envelope.
func NewUnreadCount(total int) *Envelope {
	return newEnvelope(TypeUnreadCount, UnreadCountData{Total: total})
}

// NewConversationUpdated builds a conversation_updated envelope.
func NewConversationUpdated(conversationID string) *Envelope {
	return newEnvelope(TypeConversationUpdated, ConversationUpdatedData{ConversationID: conversationID})
}

// Encode renders the envelope for the socket. The hub encodes once per push
// and reuses the bytes across every recipient session.
func (e *Envelope) Encode() []byte {
	raw, err := json.Marshal(e)
	if err != nil {
		panic("event: marshal envelope: " + err.Error())
	}
	return raw
}
