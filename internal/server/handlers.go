// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler returns a handler that upgrades HTTP requests to
// WebSocket connections and registers them with the hub. The hub launches
// the client's pump goroutines as part of registration.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr)

		select {
		case hub.register <- client:
		case <-hub.ctx.Done():
			client.closeTransport()
		}
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Relay server is running!")
}

// TestPageHandler serves an HTML test page for exercising the relay protocol.
// It provides a simple web interface to connect, set a username, send chat
// and private messages, and list connected users.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Relay Test Console</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
            font-size: 13px;
        }
        input[type="text"] { padding: 5px; margin-right: 5px; }
        #textInput { width: 280px; }
        button {
            padding: 5px 12px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Relay Test Console</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
        <input type="text" id="nameInput" placeholder="Username">
        <button onclick="setUsername()">Set name</button>
        <button onclick="listUsers()">List users</button>
        <button onclick="sendPing()">Ping</button>
    </div>
    <div style="margin-top:10px">
        <input type="text" id="textInput" placeholder="Message text...">
        <input type="text" id="targetInput" placeholder="Target id" size="6">
        <button onclick="sendChat()">Broadcast</button>
        <button onclick="sendPrivate()">Private</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function logLine(text) {
            const line = document.createElement('div');
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            ws = new WebSocket('ws://' + location.host + '/ws');
            ws.onopen = () => updateStatus(true);
            ws.onmessage = (event) => logLine(event.data);
            ws.onclose = () => { updateStatus(false); ws = null; };
            ws.onerror = (err) => logLine('connection error');
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) { ws.close(); } else { connect(); }
        }

        function sendJSON(obj) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(obj));
            }
        }

        function setUsername() {
            sendJSON({type: 'set_username', username: document.getElementById('nameInput').value});
        }

        function sendChat() {
            sendJSON({type: 'chat', text: document.getElementById('textInput').value});
            document.getElementById('textInput').value = '';
        }

        function sendPrivate() {
            sendJSON({
                type: 'private_message',
                targetClientId: parseInt(document.getElementById('targetInput').value, 10),
                text: document.getElementById('textInput').value
            });
            document.getElementById('textInput').value = '';
        }

        function listUsers() { sendJSON({type: 'get_users'}); }
        function sendPing() { sendJSON({type: 'ping'}); }

        document.getElementById('textInput').addEventListener('keypress', (e) => {
            if (e.key === 'Enter') { sendChat(); }
        });
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}
