package client

import (
	"encoding/json"

	"github.com/parley-im/parley/client/rest"
)

const (
	eventMessageNew          = "message_new"
	eventUnreadCount         = "unread_count"
	eventConversationUpdated = "conversation_updated"
)

// Envelope is the server-to-client wire format.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// MessageNewEvent carries a full message; it may be applied directly without
// a follow-up fetch.
type MessageNewEvent struct {
	ConversationID string       `json:"conversation_id"`
	Message        rest.Message `json:"message"`
}

// UnreadCountEvent is the authoritative aggregate badge total.
type UnreadCountEvent struct {
	Total int `json:"total"`
}

// ConversationUpdatedEvent names a changed conversation. It carries nothing
// else; receivers re-fetch rather than patch.
type ConversationUpdatedEvent struct {
	ConversationID string `json:"conversation_id"`
}

func unmarshalData(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}
