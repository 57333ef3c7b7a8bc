// Package rest provides typed access to the conversation engine's REST
// surface. All writes go through here; the WebSocket carries only
// server-to-client events.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrUnauthorized marks a 401 response. It is a distinct condition, never
// folded into "no data": the caller decides whether to re-login or merely
// skip the update.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Client is a REST client for the conversation engine.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client. baseURL is the server root, e.g.
// "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetToken sets the bearer token for authenticated requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	return c.post(ctx, "/api/register", req, nil)
}

// Login authenticates and stores the returned token on the client.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.post(ctx, "/api/login", req, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

// Conversations returns the list, most recent activity first.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var resp []Conversation
	if err := c.get(ctx, "/api/conversations", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateDirect gets or creates the 1:1 conversation with a user. Idempotent.
func (c *Client) CreateDirect(ctx context.Context, participantUserID string) (*Conversation, error) {
	body := map[string]string{"participant_user_id": participantUserID}
	var resp Conversation
	if err := c.post(ctx, "/api/conversations", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateGroup creates a group conversation.
func (c *Client) CreateGroup(ctx context.Context, title string, memberUserIDs []string) (*Conversation, error) {
	body := map[string]any{
		"is_group":        true,
		"title":           title,
		"member_user_ids": memberUserIDs,
	}
	var resp Conversation
	if err := c.post(ctx, "/api/conversations", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Rename updates a conversation title.
func (c *Client) Rename(ctx context.Context, conversationID, title string) error {
	return c.patch(ctx, "/api/conversations/"+url.PathEscape(conversationID), map[string]string{"title": title})
}

// AddMembers adds users to a conversation.
func (c *Client) AddMembers(ctx context.Context, conversationID string, userIDs []string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/members"
	return c.post(ctx, path, map[string][]string{"add_user_ids": userIDs}, nil)
}

// RemoveMember removes another user from a conversation.
func (c *Client) RemoveMember(ctx context.Context, conversationID, userID string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/members/remove"
	return c.post(ctx, path, map[string]string{"user_id": userID}, nil)
}

// Leave removes the authenticated user from a conversation.
func (c *Client) Leave(ctx context.Context, conversationID string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/leave"
	return c.post(ctx, path, nil, nil)
}

// Messages fetches one ascending page of history. A nil before returns the
// most recent page; otherwise the page immediately preceding the timestamp.
func (c *Client) Messages(ctx context.Context, conversationID string, before *time.Time, limit int) ([]Message, error) {
	path := fmt.Sprintf("/api/conversations/%s/messages?limit=%d", url.PathEscape(conversationID), limit)
	if before != nil {
		path += "&before=" + url.QueryEscape(before.Format(time.RFC3339Nano))
	}

	var resp MessagesPage
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage appends a message and returns the persisted copy.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (*Message, error) {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	var resp Message
	if err := c.post(ctx, path, map[string]string{"content": content}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkRead marks a conversation read and returns the fresh aggregate total,
// so no second round trip is needed.
func (c *Client) MarkRead(ctx context.Context, conversationID string) (int, error) {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/read"
	var resp TotalResponse
	if err := c.post(ctx, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Total, nil
}

// UnreadCount returns the aggregate badge total.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp TotalResponse
	if err := c.get(ctx, "/api/unread_count", &resp); err != nil {
		return 0, err
	}
	return resp.Total, nil
}

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	return c.send(ctx, http.MethodPost, path, body, dest)
}

func (c *Client) patch(ctx context.Context, path string, body any) error {
	return c.send(ctx, http.MethodPatch, path, body, nil)
}

func (c *Client) send(ctx context.Context, method, path string, body, dest any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: string(respBody)}
		var parsed errorResponse
		if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.Error != "" {
			apiErr.Message = parsed.Error
		}
		return apiErr
	}

	if dest != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
