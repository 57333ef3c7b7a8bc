package client

import (
	"context"
	"sync"
	"testing"
	"time"
)

// Hook registration is allowed while the connection state machine is
// running; the setters and the readers share the client mutex. Run with the
// race detector to verify.
func TestHookRegistrationDuringStateChanges(t *testing.T) {
	c := NewClient(Config{
		BaseURL:          "http://127.0.0.1:1",
		HandshakeTimeout: 50 * time.Millisecond,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			c.OnStateChange(func(StateEvent) {})
			c.OnConnected(func(context.Context) {})
		}
	}()

	// Each attempt fails fast against the unroutable port, driving the
	// connecting/disconnected transitions that read the hooks.
	for i := 0; i < 50; i++ {
		_ = c.Connect(context.Background())
	}
	wg.Wait()

	if got := c.State(); got != StateDisconnected {
		t.Errorf("expected disconnected after failed dials, got %v", got)
	}
}

func TestConnectRejectsSecondAttempt(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	c.mu.Lock()
	c.state = StateConnected
	c.mu.Unlock()

	if err := c.Connect(context.Background()); err != ErrAlreadyConnected {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
}
