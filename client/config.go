package client

import "time"

// Config controls how the SDK connects.
type Config struct {
	// BaseURL is the server root for REST calls, e.g. "http://localhost:8080".
	BaseURL string
	// WSURL is the WebSocket endpoint, e.g. "ws://localhost:8080/ws/chat".
	// Derived from BaseURL when empty.
	WSURL string
	// Token is the bearer token used for both REST and the upgrade.
	Token string

	HandshakeTimeout time.Duration

	// Reconnect backoff bounds. Reconnection doubles the delay from the
	// minimum up to the maximum, and every successful reconnect triggers a
	// full resynchronization.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// PageSize is the history page size requested by the reconciler.
	PageSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		MinBackoff:       time.Second,
		MaxBackoff:       30 * time.Second,
		PageSize:         50,
	}
}

func (c Config) wsURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	base := c.BaseURL
	switch {
	case len(base) > 8 && base[:8] == "https://":
		base = "wss://" + base[8:]
	case len(base) > 7 && base[:7] == "http://":
		base = "ws://" + base[7:]
	}
	return base + "/ws/chat"
}
