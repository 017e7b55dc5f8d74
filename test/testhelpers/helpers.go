// Package testhelpers provides common utilities and helper functions for
// testing the relay server.
//
// This package contains reusable test utilities shared across integration
// tests: dialing WebSocket connections, exchanging protocol envelopes, and
// asserting response properties.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the Origin header value integration tests present; test
// server configurations must allow it (or allow all origins).
const TestOrigin = "http://localhost:8080"

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// ConnectWebSocket creates a WebSocket connection to the specified URL with
// the test Origin header set.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// ConnectWebSocketWithOrigin dials with an explicit Origin header, for
// exercising the origin allow-list.
func ConnectWebSocketWithOrigin(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendJSON sends an arbitrary JSON message over the WebSocket connection.
func SendJSON(t *testing.T, conn *websocket.Conn, message any) {
	t.Helper()
	if err := conn.WriteJSON(message); err != nil {
		t.Fatalf("Failed to send message: %v", err)
	}
}

// SendRaw sends a raw text frame, for exercising the malformed-payload path.
func SendRaw(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Failed to send raw message: %v", err)
	}
}

// The server's write pump coalesces queued envelopes into a single frame,
// newline-separated; envelopes read past the first are held here until the
// next ReceiveEnvelope call for that connection.
var (
	pendingMu sync.Mutex
	pending   = map[*websocket.Conn][][]byte{}
)

func takePending(conn *websocket.Conn) ([]byte, bool) {
	pendingMu.Lock()
	defer pendingMu.Unlock()
	queue := pending[conn]
	if len(queue) == 0 {
		return nil, false
	}
	raw := queue[0]
	if len(queue) == 1 {
		delete(pending, conn)
	} else {
		pending[conn] = queue[1:]
	}
	return raw, true
}

// ReceiveEnvelope reads the next protocol envelope from the connection as a
// generic JSON object, failing the test after the timeout. A frame carrying
// several coalesced envelopes is split; the extras are returned by later
// calls before the connection is read again.
func ReceiveEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()

	raw, ok := takePending(conn)
	if !ok {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			t.Fatalf("Failed to set read deadline: %v", err)
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read message: %v", err)
		}
		parts := bytes.Split(frame, []byte{'\n'})
		raw = parts[0]
		if len(parts) > 1 {
			pendingMu.Lock()
			pending[conn] = append(pending[conn], parts[1:]...)
			pendingMu.Unlock()
		}
	}

	var message map[string]any
	if err := json.Unmarshal(raw, &message); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return message
}

// WaitForType reads envelopes until one of the wanted type arrives, failing
// the test when the deadline passes first. Presence notifications from other
// connections interleave freely with replies, so most assertions go through
// this helper.
func WaitForType(t *testing.T, conn *websocket.Conn, msgType string, timeout time.Duration) map[string]any {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for a %q message", msgType)
		}
		msg := ReceiveEnvelope(t, conn, remaining)
		if msg["type"] == msgType {
			return msg
		}
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
