// Package server routes inbound payloads: each message declares its type and
// the Router dispatches it against the registry and the hub's fan-out
// primitives.
package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Router interprets a connection's raw text payload and performs the
// corresponding action. Dispatch is stateless per call apart from the
// registry mutation it performs; each case is independent and
// order-insensitive. Extra fields on any inbound message are ignored.
type Router struct {
	registry *Registry
	hub      *Hub
}

// NewRouter creates a Router bound to the given registry and hub.
func NewRouter(registry *Registry, hub *Hub) *Router {
	return &Router{registry: registry, hub: hub}
}

// Dispatch parses the raw payload and routes it by its declared type.
// A payload that is not valid JSON earns an error reply; a parseable payload
// with an unknown or absent type is echoed back. Known types with missing or
// empty required fields are dropped without a reply.
func (rt *Router) Dispatch(client *Client, raw []byte) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		messagesReceived.WithLabelValues("invalid").Inc()
		rt.hub.sendTo(client, ErrorMessage{
			Type:      "error",
			Message:   "Invalid message format",
			Timestamp: timestamp(),
		})
		return
	}

	msgType, _ := payload["type"].(string)
	switch msgType {
	case "set_username":
		messagesReceived.WithLabelValues(msgType).Inc()
		rt.handleSetUsername(client, raw)
	case "chat":
		messagesReceived.WithLabelValues(msgType).Inc()
		rt.handleChat(client, raw)
	case "private_message":
		messagesReceived.WithLabelValues(msgType).Inc()
		rt.handlePrivateMessage(client, raw)
	case "get_users":
		messagesReceived.WithLabelValues(msgType).Inc()
		rt.handleGetUsers(client)
	case "ping":
		messagesReceived.WithLabelValues(msgType).Inc()
		rt.hub.sendTo(client, PongMessage{Type: "pong", Timestamp: timestamp()})
	default:
		messagesReceived.WithLabelValues("unknown").Inc()
		rt.hub.sendTo(client, EchoMessage{
			Type:      "echo",
			Message:   payload,
			Timestamp: timestamp(),
		})
	}
}

func (rt *Router) handleSetUsername(client *Client, raw []byte) {
	var msg struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	username := strings.TrimSpace(msg.Username)
	if username == "" {
		return
	}

	rec, old, ok := rt.registry.Rename(client, username)
	if !ok {
		return
	}

	rt.hub.sendTo(client, UsernameChanged{
		Type:      "username_changed",
		Message:   fmt.Sprintf("Username changed to %s", username),
		Username:  username,
		Timestamp: timestamp(),
	})
	rt.hub.broadcastAll(RenameNotice{
		Type:        "user_renamed",
		Message:     fmt.Sprintf("%s is now known as %s", old, username),
		ClientID:    rec.ID,
		OldUsername: old,
		NewUsername: username,
		Timestamp:   timestamp(),
	})
}

func (rt *Router) handleChat(client *Client, raw []byte) {
	var msg struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	rec, ok := rt.registry.Lookup(client)
	if !ok {
		return
	}

	out := ChatMessage{
		Type:      "chat",
		Username:  rec.Username,
		ClientID:  rec.ID,
		Text:      text,
		Timestamp: timestamp(),
	}
	ack := out
	ack.Acknowledged = true
	rt.hub.broadcastExcept(out, ack, client)
}

func (rt *Router) handlePrivateMessage(client *Client, raw []byte) {
	var msg struct {
		TargetClientID int64  `json:"targetClientId"`
		Text           string `json:"text"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.TargetClientID == 0 || msg.Text == "" {
		return
	}

	sender, ok := rt.registry.Lookup(client)
	if !ok {
		return
	}

	target, targetRec, found := rt.registry.LookupByID(msg.TargetClientID)
	if !found {
		rt.hub.sendTo(client, ErrorMessage{
			Type:      "error",
			Message:   fmt.Sprintf("User with ID %d not found", msg.TargetClientID),
			Timestamp: timestamp(),
		})
		return
	}

	rt.hub.sendTo(target, PrivateMessage{
		Type:         "private_message",
		From:         sender.Username,
		FromClientID: sender.ID,
		Text:         msg.Text,
		Timestamp:    timestamp(),
	})
	rt.hub.sendTo(client, PrivateMessageSent{
		Type:      "private_message_sent",
		To:        targetRec.Username,
		Text:      msg.Text,
		Timestamp: timestamp(),
	})
}

func (rt *Router) handleGetUsers(client *Client) {
	views := rt.registry.Snapshot()
	users := make([]UserEntry, 0, len(views))
	for _, v := range views {
		users = append(users, UserEntry{
			ID:          v.ID,
			Username:    v.Username,
			ConnectedAt: v.ConnectedAt.UTC().Format(time.RFC3339),
			IP:          v.Addr,
		})
	}
	rt.hub.sendTo(client, UserList{
		Type:       "user_list",
		Users:      users,
		TotalUsers: len(users),
		Timestamp:  timestamp(),
	})
}
