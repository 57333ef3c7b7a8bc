package rest

import "time"

// TokenResponse contains the JWT returned after a successful login.
type TokenResponse struct {
	Token string `json:"token"`
}

// Conversation is one row of the conversation list, annotated with the
// per-user display title, last-message preview and unread count.
type Conversation struct {
	ID           string    `json:"id"`
	IsGroup      bool      `json:"is_group"`
	Title        string    `json:"title,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	DisplayTitle string    `json:"display_title"`
	Preview      *Preview  `json:"preview,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	Unread       int       `json:"unread"`
}

// Preview is the last message of a conversation.
type Preview struct {
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one immutable chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessagesPage is one page of ascending history.
type MessagesPage struct {
	Messages []Message `json:"messages"`
}

// TotalResponse carries an aggregate unread total.
type TotalResponse struct {
	Total int `json:"total"`
}

// RegisterRequest is the request body for account registration.
type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// LoginRequest is the request body for login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type errorResponse struct {
	Error string `json:"error"`
}
