// Package server defines shared broadcast plumbing types and utility helpers
// that are reused across client and hub logic.
package server

import "strings"

// BroadcastMessage encapsulates a message being fanned out by the hub. When
// Sender is set and AckPayload is non-nil, the sender receives AckPayload
// (the same message augmented with the acknowledged marker) instead of the
// plain Payload every other connection receives.
type BroadcastMessage struct {
	Sender     *Client
	Payload    []byte
	AckPayload []byte
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
