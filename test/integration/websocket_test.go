package integration

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuswire/relay/test/testhelpers"
)

const recvTimeout = 3 * time.Second

// connectClient dials the relay and consumes the welcome envelope, returning
// the connection and the assigned client id.
func connectClient(t *testing.T, url string) (*websocket.Conn, int64) {
	t.Helper()

	conn, err := testhelpers.ConnectWebSocket(url)
	require.NoError(t, err, "WebSocket dial failed")
	t.Cleanup(func() { _ = conn.Close() })

	welcome := testhelpers.WaitForType(t, conn, "welcome", recvTimeout)
	id, ok := welcome["clientId"].(float64)
	require.True(t, ok, "welcome must carry a numeric clientId")
	return conn, int64(id)
}

func TestWelcomeOnConnect(t *testing.T) {
	ts := startTestServer(t)

	conn, err := testhelpers.ConnectWebSocket(wsURL(ts))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	welcome := testhelpers.ReceiveEnvelope(t, conn, recvTimeout)
	assert.Equal(t, "welcome", welcome["type"], "the first envelope must be the welcome")
	assert.NotEmpty(t, welcome["message"])
	assert.NotEmpty(t, welcome["timestamp"])

	joined := testhelpers.WaitForType(t, conn, "user_joined", recvTimeout)
	assert.Equal(t, true, joined["acknowledged"])
}

func TestClientIDsIncreaseAcrossConnections(t *testing.T) {
	ts := startTestServer(t)

	_, first := connectClient(t, wsURL(ts))
	_, second := connectClient(t, wsURL(ts))
	assert.Greater(t, second, first)
}

func TestChatBroadcastBetweenClients(t *testing.T) {
	ts := startTestServer(t)

	connA, idA := connectClient(t, wsURL(ts))
	connB, _ := connectClient(t, wsURL(ts))

	testhelpers.SendJSON(t, connA, map[string]any{"type": "chat", "text": "hello there"})

	relayed := testhelpers.WaitForType(t, connB, "chat", recvTimeout)
	assert.Equal(t, "hello there", relayed["text"])
	assert.Equal(t, float64(idA), relayed["clientId"])
	_, hasAck := relayed["acknowledged"]
	assert.False(t, hasAck)

	own := testhelpers.WaitForType(t, connA, "chat", recvTimeout)
	assert.Equal(t, "hello there", own["text"])
	assert.Equal(t, true, own["acknowledged"])
}

func TestPingPong(t *testing.T) {
	ts := startTestServer(t)
	conn, _ := connectClient(t, wsURL(ts))

	testhelpers.SendJSON(t, conn, map[string]any{"type": "ping"})

	pong := testhelpers.WaitForType(t, conn, "pong", recvTimeout)
	assert.NotEmpty(t, pong["timestamp"])
}

func TestSetUsernameFlow(t *testing.T) {
	ts := startTestServer(t)

	connA, idA := connectClient(t, wsURL(ts))
	connB, _ := connectClient(t, wsURL(ts))

	testhelpers.SendJSON(t, connA, map[string]any{"type": "set_username", "username": "alice"})

	confirm := testhelpers.WaitForType(t, connA, "username_changed", recvTimeout)
	assert.Equal(t, "alice", confirm["username"])

	ownNotice := testhelpers.WaitForType(t, connA, "user_renamed", recvTimeout)
	assert.Equal(t, "alice", ownNotice["newUsername"])

	notice := testhelpers.WaitForType(t, connB, "user_renamed", recvTimeout)
	assert.Equal(t, float64(idA), notice["clientId"])
	assert.Equal(t, "alice", notice["newUsername"])
	assert.NotEmpty(t, notice["oldUsername"])
}

func TestPrivateMessageBetweenClients(t *testing.T) {
	ts := startTestServer(t)

	connA, idA := connectClient(t, wsURL(ts))
	connB, idB := connectClient(t, wsURL(ts))

	testhelpers.SendJSON(t, connA, map[string]any{
		"type":           "private_message",
		"targetClientId": idB,
		"text":           "just for you",
	})

	delivered := testhelpers.WaitForType(t, connB, "private_message", recvTimeout)
	assert.Equal(t, "just for you", delivered["text"])
	assert.Equal(t, float64(idA), delivered["fromClientId"])

	confirm := testhelpers.WaitForType(t, connA, "private_message_sent", recvTimeout)
	assert.Equal(t, "just for you", confirm["text"])
	assert.NotEmpty(t, confirm["to"])
}

func TestPrivateMessageToUnknownTarget(t *testing.T) {
	ts := startTestServer(t)
	conn, _ := connectClient(t, wsURL(ts))

	testhelpers.SendJSON(t, conn, map[string]any{
		"type":           "private_message",
		"targetClientId": 99999,
		"text":           "anyone home?",
	})

	errMsg := testhelpers.WaitForType(t, conn, "error", recvTimeout)
	assert.Contains(t, errMsg["message"], "99999")
}

func TestGetUsersListsEveryone(t *testing.T) {
	ts := startTestServer(t)

	connA, idA := connectClient(t, wsURL(ts))
	_, idB := connectClient(t, wsURL(ts))

	testhelpers.SendJSON(t, connA, map[string]any{"type": "get_users"})

	list := testhelpers.WaitForType(t, connA, "user_list", recvTimeout)
	assert.Equal(t, float64(2), list["totalUsers"])

	users, ok := list["users"].([]any)
	require.True(t, ok)
	require.Len(t, users, 2)

	ids := make(map[float64]bool)
	for _, u := range users {
		entry := u.(map[string]any)
		id := entry["id"].(float64)
		assert.False(t, ids[id], "duplicate id in user list")
		ids[id] = true
	}
	assert.True(t, ids[float64(idA)])
	assert.True(t, ids[float64(idB)])
}

func TestUnknownTypeEchoed(t *testing.T) {
	ts := startTestServer(t)
	conn, _ := connectClient(t, wsURL(ts))

	testhelpers.SendJSON(t, conn, map[string]any{"type": "mystery", "payload": "data"})

	echo := testhelpers.WaitForType(t, conn, "echo", recvTimeout)
	original, ok := echo["message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "mystery", original["type"])
	assert.Equal(t, "data", original["payload"])
}

func TestMalformedPayloadGetsError(t *testing.T) {
	ts := startTestServer(t)
	conn, _ := connectClient(t, wsURL(ts))

	testhelpers.SendRaw(t, conn, []byte("definitely not json"))

	errMsg := testhelpers.WaitForType(t, conn, "error", recvTimeout)
	assert.Equal(t, "Invalid message format", errMsg["message"])

	// The connection survives a parse error.
	testhelpers.SendJSON(t, conn, map[string]any{"type": "ping"})
	testhelpers.WaitForType(t, conn, "pong", recvTimeout)
}

func TestEmptyChatDropped(t *testing.T) {
	ts := startTestServer(t)
	conn, _ := connectClient(t, wsURL(ts))

	testhelpers.SendJSON(t, conn, map[string]any{"type": "chat", "text": "  "})
	testhelpers.SendJSON(t, conn, map[string]any{"type": "ping"})

	// The ping reply arrives without any chat envelope ahead of it.
	msg := testhelpers.WaitForType(t, conn, "pong", recvTimeout)
	assert.Equal(t, "pong", msg["type"])
}

func TestDisconnectBroadcastsUserLeft(t *testing.T) {
	ts := startTestServer(t)

	connA, _ := connectClient(t, wsURL(ts))
	connB, idB := connectClient(t, wsURL(ts))

	require.NoError(t, testhelpers.CloseWebSocket(connB))

	left := testhelpers.WaitForType(t, connA, "user_left", recvTimeout)
	assert.Equal(t, float64(idB), left["clientId"])
}
