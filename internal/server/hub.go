// Package server coordinates client registration, message fan-out, presence
// notifications, and liveness eviction for the relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Hub runs the relay's central event loop. Registration, disconnects, and
// broadcast fan-out are serialized through channels onto the hub goroutine;
// the registry itself is mutex-guarded so the router (running on readPump
// goroutines) and the liveness sweep can read and mutate it directly. This
// hybrid is the concurrency discipline for the whole package.
type Hub struct {
	registry   *Registry
	router     *Router
	broadcast  chan BroadcastMessage
	register   chan *Client
	unregister chan *Client

	livenessInterval time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub with a fresh registry and router, ready to manage
// connections. The liveness probe period is taken from the active
// configuration.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		registry:         NewRegistry(),
		broadcast:        make(chan BroadcastMessage),
		register:         make(chan *Client),
		unregister:       make(chan *Client),
		livenessInterval: currentConfig().LivenessInterval,
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
	}
	h.router = NewRouter(h.registry, h)
	return h
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// GetRegisterChan returns the channel used for registering new clients.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// Run starts the hub's main event loop, handling client registration,
// disconnects, broadcast fan-out, and the periodic liveness sweep. This
// method should be called in a separate goroutine as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	ticker := time.NewTicker(h.livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleDisconnect(client)

		case broadcastMsg := <-h.broadcast:
			h.handleBroadcast(broadcastMsg)

		case <-ticker.C:
			h.sweepLiveness()
		}
	}
}

// handleRegister creates the client's registry record, launches its pumps,
// welcomes it, and announces the join. The joining connection receives its
// own join notice with the acknowledged marker, alongside the welcome.
func (h *Hub) handleRegister(client *Client) {
	rec := h.registry.Register(client, client.addr, time.Now())
	activeConnections.Set(float64(h.registry.Size()))
	log.Printf("Client %d registered from %s. Total clients: %d", rec.ID, client.addr, h.registry.Size())

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()

	h.sendTo(client, WelcomeMessage{
		Type:      "welcome",
		Message:   fmt.Sprintf("Welcome to the chat, %s!", rec.Username),
		ClientID:  rec.ID,
		Timestamp: timestamp(),
	})

	joined := PresenceMessage{
		Type:      "user_joined",
		Message:   fmt.Sprintf("%s joined the chat", rec.Username),
		ClientID:  rec.ID,
		Timestamp: timestamp(),
	}
	acked := joined
	acked.Acknowledged = true
	h.fanOut(joined, acked, client)
}

// handleDisconnect removes the client and announces the departure. A second
// call for an already-removed client is a no-op: the disconnect and eviction
// paths may both reach here for the same connection.
func (h *Hub) handleDisconnect(client *Client) {
	rec, ok := h.registry.Unregister(client)
	if !ok {
		return
	}
	client.markClosed()
	close(client.send)
	activeConnections.Set(float64(h.registry.Size()))
	log.Printf("Client %d unregistered from %s. Total clients: %d", rec.ID, client.addr, h.registry.Size())

	h.fanOut(PresenceMessage{
		Type:      "user_left",
		Message:   fmt.Sprintf("%s left the chat", rec.Username),
		ClientID:  rec.ID,
		Timestamp: timestamp(),
	}, nil, nil)
}

// sweepLiveness advances the liveness state machine: connections that never
// acknowledged the previous probe are evicted, everyone else is moved to
// pending-check and probed. Acks arrive through the clients' pong handlers.
func (h *Hub) sweepLiveness() {
	stale, probed := h.registry.SweepProbeCandidates()
	for _, client := range stale {
		log.Printf("Evicting unresponsive client from %s", client.addr)
		evictionsTotal.Inc()
		client.closeTransport()
		h.handleDisconnect(client)
	}
	for _, client := range probed {
		livenessProbesTotal.Inc()
		client.requestProbe()
	}
}

// broadcastExcept queues a fan-out in which the sender's copy is the
// acknowledged variant of the message. Safe to call from any goroutine.
func (h *Hub) broadcastExcept(message, acknowledged any, sender *Client) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error encoding broadcast message: %v", err)
		return
	}
	ackPayload, err := json.Marshal(acknowledged)
	if err != nil {
		log.Printf("Error encoding acknowledged broadcast message: %v", err)
		return
	}
	h.enqueueBroadcast(BroadcastMessage{Sender: sender, Payload: payload, AckPayload: ackPayload})
}

// broadcastAll queues a fan-out delivered unmodified to every connection.
// Used for notifications that have no sender to acknowledge.
func (h *Hub) broadcastAll(message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error encoding broadcast message: %v", err)
		return
	}
	h.enqueueBroadcast(BroadcastMessage{Payload: payload})
}

func (h *Hub) enqueueBroadcast(broadcastMsg BroadcastMessage) {
	select {
	case h.broadcast <- broadcastMsg:
	case <-h.ctx.Done():
	}
}

// sendTo delivers a message to a single connection, best effort: sending to
// a closed or unregistered client is a no-op, never an error for the caller.
func (h *Hub) sendTo(client *Client, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error encoding message for %s: %v", client.addr, err)
		return
	}
	directSendsTotal.Inc()
	if !h.safeSend(client, payload) {
		sendFailuresTotal.Inc()
		log.Printf("Dropped direct message to closed client from %s", client.addr)
	}
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	if !h.registry.Contains(client) || client.isClosed() {
		return false
	}

	// The send channel might close between the check and the send; the
	// recover above backstops that race.
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// handleBroadcast fans a message out over a point-in-time snapshot of the
// registry. Per-recipient failures are logged and skipped; the loop always
// completes for the remaining connections.
func (h *Hub) handleBroadcast(broadcastMsg BroadcastMessage) {
	clients := h.registry.Clients()
	broadcastsTotal.Inc()

	var failed []*Client
	for _, client := range clients {
		payload := broadcastMsg.Payload
		if broadcastMsg.Sender != nil && client == broadcastMsg.Sender && broadcastMsg.AckPayload != nil {
			payload = broadcastMsg.AckPayload
		}
		if !h.safeSend(client, payload) {
			sendFailuresTotal.Inc()
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

// removeFailedClients drops connections whose send buffers are full or whose
// channels are gone. Removal runs through the normal disconnect path so the
// rest of the relay sees an ordinary departure.
func (h *Hub) removeFailedClients(failed []*Client) {
	for _, client := range failed {
		if h.registry.Contains(client) {
			log.Printf("Client from %s removed due to full send buffer", client.addr)
			h.handleDisconnect(client)
		}
	}
}

// fanOut runs the broadcast delivery directly on the hub goroutine. Only
// call from code already executing inside Run.
func (h *Hub) fanOut(message, acknowledged any, sender *Client) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error encoding broadcast message: %v", err)
		return
	}
	broadcastMsg := BroadcastMessage{Sender: sender, Payload: payload}
	if acknowledged != nil {
		ackPayload, err := json.Marshal(acknowledged)
		if err != nil {
			log.Printf("Error encoding acknowledged broadcast message: %v", err)
			return
		}
		broadcastMsg.AckPayload = ackPayload
	}
	h.handleBroadcast(broadcastMsg)
}

// shutdownClients gracefully closes all active client connections.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	clients := h.registry.Clients()
	for _, client := range clients {
		client.closeTransport()
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all
// goroutines to complete. It returns after all client connections are closed
// and pump goroutines have finished, or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
