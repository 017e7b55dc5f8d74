package integration

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuswire/relay/internal/server"
	"github.com/nexuswire/relay/test/testhelpers"
)

// TestGracefulShutdown verifies that an idle hub shuts down cleanly.
func TestGracefulShutdown(t *testing.T) {
	server.SetConfig(testConfig())
	t.Cleanup(func() { server.SetConfig(nil) })

	hub := server.NewHub()
	go hub.Run()
	time.Sleep(50 * time.Millisecond)

	assert.NoError(t, hub.Shutdown(5*time.Second))
}

// TestGracefulShutdownWithClients verifies that active client connections
// are closed during graceful shutdown and that all hub goroutines drain.
func TestGracefulShutdownWithClients(t *testing.T) {
	server.SetConfig(testConfig())
	t.Cleanup(func() { server.SetConfig(nil) })

	hub := server.NewHub()
	go hub.Run()

	ts := httptest.NewServer(server.SetupRoutes(hub))
	defer ts.Close()

	const numClients = 5
	conns := make([]*websocket.Conn, 0, numClients)
	for i := 0; i < numClients; i++ {
		conn, err := testhelpers.ConnectWebSocket(wsURL(ts))
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()
		testhelpers.WaitForType(t, conn, "welcome", recvTimeout)
		conns = append(conns, conn)
	}

	require.Eventually(t, func() bool { return hub.Registry().Size() == numClients },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Shutdown(5*time.Second))

	// Every client observes its connection ending.
	for _, conn := range conns {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}
}

// TestShutdownStopsLivenessSweep verifies the probe timer dies with the hub
// instead of firing against a closing registry.
func TestShutdownStopsLivenessSweep(t *testing.T) {
	cfg := testConfig()
	cfg.LivenessInterval = 50 * time.Millisecond
	server.SetConfig(cfg)
	t.Cleanup(func() { server.SetConfig(nil) })

	hub := server.NewHub()
	go hub.Run()
	time.Sleep(120 * time.Millisecond)

	require.NoError(t, hub.Shutdown(5*time.Second))

	// A few would-be probe periods after shutdown, nothing panics and the
	// registry is untouched.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, hub.Registry().Size())
}
