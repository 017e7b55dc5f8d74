// Package server defines the outbound JSON envelope types produced by the
// router and the hub's presence notifications.
package server

import "time"

// Outbound envelopes form a tagged union keyed by the Type field. Every
// envelope carries an RFC 3339 UTC timestamp.

// WelcomeMessage greets a connection once, immediately after registration.
type WelcomeMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	ClientID  int64  `json:"clientId"`
	Timestamp string `json:"timestamp"`
}

// PresenceMessage announces a connection joining or leaving. The joining
// connection's own copy carries the acknowledged marker.
type PresenceMessage struct {
	Type         string `json:"type"`
	Message      string `json:"message"`
	ClientID     int64  `json:"clientId"`
	Acknowledged bool   `json:"acknowledged,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// RenameNotice announces a display-name change to every connection.
type RenameNotice struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	ClientID    int64  `json:"clientId"`
	OldUsername string `json:"oldUsername"`
	NewUsername string `json:"newUsername"`
	Timestamp   string `json:"timestamp"`
}

// UsernameChanged confirms a rename to the renaming connection only.
type UsernameChanged struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

// ChatMessage is the broadcast chat envelope. The sender's copy carries the
// acknowledged marker instead of being a plain relay.
type ChatMessage struct {
	Type         string `json:"type"`
	Username     string `json:"username"`
	ClientID     int64  `json:"clientId"`
	Text         string `json:"text"`
	Acknowledged bool   `json:"acknowledged,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// PrivateMessage is delivered to the target of a direct message only.
type PrivateMessage struct {
	Type         string `json:"type"`
	From         string `json:"from"`
	FromClientID int64  `json:"fromClientId"`
	Text         string `json:"text"`
	Timestamp    string `json:"timestamp"`
}

// PrivateMessageSent confirms delivery of a direct message to its sender.
type PrivateMessageSent struct {
	Type      string `json:"type"`
	To        string `json:"to"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// UserEntry is one row of a UserList reply.
type UserEntry struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	ConnectedAt string `json:"connectedAt"`
	IP          string `json:"ip"`
}

// UserList is the reply to a get_users request.
type UserList struct {
	Type       string      `json:"type"`
	Users      []UserEntry `json:"users"`
	TotalUsers int         `json:"totalUsers"`
	Timestamp  string      `json:"timestamp"`
}

// PongMessage answers an application-level ping. This is unrelated to the
// liveness probes, which ride on WebSocket control frames.
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// EchoMessage wraps an unrecognized but parseable payload back to its sender.
type EchoMessage struct {
	Type      string `json:"type"`
	Message   any    `json:"message"`
	Timestamp string `json:"timestamp"`
}

// ErrorMessage reports a failure back to the offending connection.
type ErrorMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
