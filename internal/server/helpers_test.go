package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestHub starts a hub under the given configuration and tears it down
// with the test. Passing nil runs with defaults.
func newTestHub(t *testing.T, cfg *Config) *Hub {
	t.Helper()

	SetConfig(cfg)
	t.Cleanup(func() { SetConfig(nil) })

	h := NewHub()
	go h.Run()
	t.Cleanup(func() { _ = h.Shutdown(2 * time.Second) })
	return h
}

// addTestClient registers a connection-less client with the hub and waits for
// the registration to land. Clients without a transport connection never pump,
// so their outbound messages stay buffered on the send channel for assertions.
func addTestClient(t *testing.T, h *Hub, addr string) *Client {
	t.Helper()

	c := NewClient(nil, h, addr)
	select {
	case h.register <- c:
	case <-time.After(time.Second):
		t.Fatal("timed out registering client")
	}
	waitFor(t, time.Second, func() bool { return h.registry.Contains(c) })
	return c
}

// setupClients registers n clients and drains the welcome and join traffic
// generated during setup, so tests start from quiet channels.
func setupClients(t *testing.T, h *Hub, n int) []*Client {
	t.Helper()

	clients := make([]*Client, 0, n)
	for i := 0; i < n; i++ {
		clients = append(clients, addTestClient(t, h, "127.0.0.1:1000"))
	}
	time.Sleep(50 * time.Millisecond)
	for _, c := range clients {
		drainClient(c)
	}
	return clients
}

func drainClient(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// receiveEnvelope reads the next outbound message queued for the client and
// decodes it as a generic JSON object.
func receiveEnvelope(t *testing.T, c *Client, timeout time.Duration) map[string]any {
	t.Helper()

	select {
	case raw, ok := <-c.send:
		require.True(t, ok, "send channel closed while waiting for a message")
		var msg map[string]any
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

// receiveType reads messages until one of the wanted type arrives.
func receiveType(t *testing.T, c *Client, msgType string, timeout time.Duration) map[string]any {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for a %q message", msgType)
		}
		msg := receiveEnvelope(t, c, remaining)
		if msg["type"] == msgType {
			return msg
		}
	}
}

// expectSilence asserts that no outbound message arrives for the duration.
func expectSilence(t *testing.T, c *Client, d time.Duration) {
	t.Helper()

	select {
	case raw, ok := <-c.send:
		if ok {
			t.Fatalf("expected no message, got %s", raw)
		}
	case <-time.After(d):
	}
}
