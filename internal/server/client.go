// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, liveness probes, and lifecycle control for each
// connection.
package server

import (
	"errors"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const writeWait = 10 * time.Second

// Client represents one WebSocket connection in the relay. It owns the
// transport handle and the buffered send channel; all identity and liveness
// state lives in the registry, keyed by this client.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	probe          chan struct{}
	hub            *Hub
	addr           string
	closed         atomic.Bool
	maxMessageSize int64
	limiter        *rate.Limiter
	rateLimit      RateLimitConfig
}

// NewClient creates a new Client for the provided WebSocket connection.
// The send channel is buffered so one slow peer cannot stall a broadcast
// cycle for the others.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	limit := rate.Limit(float64(cfg.RateLimit.Burst) / cfg.RateLimit.RefillInterval.Seconds())
	return &Client{
		conn:           conn,
		send:           make(chan []byte, 256),
		probe:          make(chan struct{}, 1),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        rate.NewLimiter(limit, cfg.RateLimit.Burst),
		rateLimit:      cfg.RateLimit,
	}
}

// GetSendChan returns the client's send channel for reading outgoing messages.
// This channel is read-only from the caller's perspective.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

func (c *Client) markClosed() {
	c.closed.Store(true)
}

func (c *Client) isClosed() bool {
	return c.closed.Load()
}

// requestProbe asks the write pump to emit a liveness ping frame. The signal
// channel holds one pending probe; a probe already in flight is enough.
func (c *Client) requestProbe() {
	select {
	case c.probe <- struct{}{}:
	default:
	}
}

// closeTransport closes the underlying connection. Safe to call more than
// once and on clients that never had a live connection.
func (c *Client) closeTransport() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error closing connection from %s: %v", c.addr, err)
		}
	}
}

// readWait is the transport read deadline: two liveness periods, so a
// connection is reaped by the liveness sweep before the deadline fires.
func (c *Client) readWait() time.Duration {
	interval := c.hub.livenessInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return 2 * interval
}

// setupReadConnection configures the read deadline and the pong handler.
// Pong frames are the liveness acknowledgments: they reset the read deadline
// and flip the connection back to alive in the registry.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readWait())); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readWait())); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		c.hub.registry.MarkAlive(c)
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		log.Printf("Message from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Printf("Client %s disconnected: %v", c.addr, err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Printf("Client %s connection closed: %v", c.addr, err)
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		log.Printf("Unexpected WebSocket error from %s: %v", c.addr, err)
		return true
	}

	log.Printf("WebSocket read error from %s: %v", c.addr, err)
	return true
}

// checkRateLimit verifies the client has not exceeded its inbound rate limit
// and returns true if the message should be processed.
func (c *Client) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.Allow() {
		log.Printf("Rate limit exceeded for %s (%d messages per %s); discarding message", c.addr, c.rateLimit.Burst, c.rateLimit.RefillInterval)
		return false
	}
	return true
}

func (c *Client) readPump() {
	if c.conn == nil {
		return
	}
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.closeTransport()
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
			continue
		}

		if !c.checkRateLimit() {
			continue
		}

		c.hub.router.Dispatch(c, rawMessage)
	}
}

func (c *Client) writePump() {
	if c.conn == nil {
		return
	}
	defer c.closeTransport()

	for c.processWriteEvent() {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing. Hub shutdown ends the pump with a close
// handshake rather than leaving it parked on the send channel.
func (c *Client) processWriteEvent() bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-c.probe:
		return c.writeProbe()
	case <-c.hub.ctx.Done():
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return false
		}
		return c.writeCloseMessage()
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client.
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing close message to %s: %v", c.addr, err)
		}
	}
	return false
}

// writeTextMessage writes a text message and any queued messages.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		log.Printf("Error creating writer for %s: %v", c.addr, err)
		return false
	}

	if _, err := w.Write(message); err != nil {
		log.Printf("Error writing message to %s: %v", c.addr, err)
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	if err := w.Close(); err != nil {
		log.Printf("Error closing writer for %s: %v", c.addr, err)
		return false
	}
	return true
}

// writeQueuedMessages drains messages that queued up behind the current one,
// newline-separated within the same WebSocket frame.
func (c *Client) writeQueuedMessages(w io.WriteCloser) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			log.Printf("Error writing newline to %s: %v", c.addr, err)
			return false
		}
		if _, err := w.Write(<-c.send); err != nil {
			log.Printf("Error writing queued message to %s: %v", c.addr, err)
			return false
		}
	}
	return true
}

// writeProbe emits a liveness ping frame on behalf of the hub's sweep.
func (c *Client) writeProbe() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for probe to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing liveness probe to %s: %v", c.addr, err)
		}
		return false
	}
	return true
}
