// Package gateway is the streaming front door: it upgrades HTTP
// connections, authenticates them, enforces the connection cap, and fans
// terminal events out to every admitted client.
package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/termport/termport/internal/common/logger"
	"github.com/termport/termport/pkg/stream"
)

// Hub owns the set of admitted streaming clients. Admission capacity is
// reserved before a client is registered so the cap holds even while a
// handshake is in flight.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *stream.Message

	dispatcher *stream.Dispatcher

	capacity int
	reserved int
	mu       sync.Mutex

	// done is closed when Run exits so client goroutines never block on
	// the register/unregister channels after shutdown.
	done chan struct{}

	logger *logger.Logger
}

// NewHub creates a hub with the given connection capacity.
func NewHub(capacity int, dispatcher *stream.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *stream.Message, 256),
		dispatcher: dispatcher,
		capacity:   capacity,
		done:       make(chan struct{}),
		logger:     log.WithFields(zap.String("component", "hub")),
	}
}

// TryReserve claims one admission slot. It must be balanced with a
// Release, which happens automatically when a registered client leaves.
// A stopped hub has no slots.
func (h *Hub) TryReserve() bool {
	select {
	case <-h.done:
		return false
	default:
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reserved >= h.capacity {
		return false
	}
	h.reserved++
	return true
}

// Release returns one admission slot.
func (h *Hub) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reserved > 0 {
		h.reserved--
	}
}

// Run processes registrations and broadcasts until ctx is cancelled, then
// closes every client with a shutdown close frame.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("gateway hub started", zap.Int("capacity", h.capacity))
	defer h.logger.Info("gateway hub stopped")

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("connection_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

// Register adds an admitted client to the hub. After shutdown the client's
// socket is closed instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		_ = client.conn.Close()
	}
}

// Unregister removes a client and releases its admission slot.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a message for delivery to every connected client.
func (h *Hub) Broadcast(msg *stream.Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dispatcher returns the inbound message dispatcher.
func (h *Hub) Dispatcher() *stream.Dispatcher {
	return h.dispatcher
}

// removeClient runs only after the client's read pump has exited, so
// closing the send channel cannot race a queued send for this client.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()

	if ok {
		h.Release()
		h.logger.Debug("client unregistered", zap.String("connection_id", client.ID))
	}
}

// broadcastMessage marshals once and fans out. A client with a full send
// queue misses the message; liveness wins over completeness there.
func (h *Hub) broadcastMessage(msg *stream.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("dropping message for slow client",
				zap.String("connection_id", client.ID),
				zap.String("type", string(msg.Type)))
		}
	}
}

// closeAllClients shuts the sockets down rather than closing send
// channels: the pumps may still be dispatching inbound messages, and a
// send on a closed channel would panic. Closing the connection makes both
// pumps exit on their own.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	frame := websocket.FormatCloseMessage(websocket.CloseGoingAway, stream.CloseReasonShutdown)
	deadline := time.Now().Add(time.Second)
	for client := range h.clients {
		_ = client.conn.WriteControl(websocket.CloseMessage, frame, deadline)
		_ = client.conn.Close()
		delete(h.clients, client)
	}
	h.reserved = 0
}
