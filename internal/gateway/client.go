package gateway

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/termport/termport/internal/common/logger"
	"github.com/termport/termport/pkg/stream"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum inbound message size.
	maxMessageSize = 512 * 1024
)

// Client is one admitted streaming connection. All writes to the socket go
// through the bounded send queue; the write pump is its only writer after
// the handshake.
type Client struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	pingPeriod time.Duration
	pongWait   time.Duration

	// subscribedID is the coarse per-connection subscription: the active
	// terminal at admit time, retargeted by select messages. Delivery is
	// broadcast-to-all; this records what the client is looking at.
	mu           sync.Mutex
	subscribedID string
	lastSeen     time.Time

	logger *logger.Logger
}

// NewClient wraps an upgraded connection. heartbeatInterval drives the
// server ping cadence; the peer is dead after misses intervals without a
// pong.
func NewClient(id string, conn *websocket.Conn, hub *Hub, heartbeatInterval time.Duration, misses int, sendBuffer int, log *logger.Logger) *Client {
	return &Client{
		ID:         id,
		conn:       conn,
		hub:        hub,
		send:       make(chan []byte, sendBuffer),
		pingPeriod: heartbeatInterval,
		pongWait:   heartbeatInterval * time.Duration(misses),
		lastSeen:   time.Now(),
		logger:     log.WithFields(zap.String("connection_id", id)),
	}
}

// Subscribe records which terminal the client is watching.
func (c *Client) Subscribe(terminalID string) {
	c.mu.Lock()
	c.subscribedID = terminalID
	c.mu.Unlock()
}

// SubscribedID returns the client's current coarse subscription.
func (c *Client) SubscribedID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribedID
}

// LastSeen returns the time of the last inbound frame.
func (c *Client) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// ReadPump reads inbound envelopes until the connection dies. A read
// deadline expiry means the peer missed every heartbeat and gets a
// heartbeat-timeout close frame.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.logger.Debug("connection closed",
			zap.String("subscribed_terminal", c.SubscribedID()),
			zap.Duration("idle", time.Since(c.LastSeen())))
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				c.logger.Info("closing unresponsive connection")
				frame := websocket.FormatCloseMessage(websocket.CloseGoingAway, stream.CloseReasonHeartbeatTimeout)
				_ = c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read error", zap.Error(err))
			}
			return
		}

		// Any traffic proves liveness, not just pong frames.
		c.touch()
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

		var msg stream.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.SendMessage(stream.NewError("", "MESSAGE_INVALID", "malformed envelope: "+err.Error()))
			continue
		}
		c.handleMessage(ctx, &msg)
	}
}

// handleMessage routes one envelope. Handler failures become in-band error
// envelopes; the connection always survives a bad message.
func (c *Client) handleMessage(ctx context.Context, msg *stream.Message) {
	reply, err := c.hub.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		c.logger.Debug("handler rejected message",
			zap.String("type", string(msg.Type)), zap.Error(err))
		c.SendMessage(errorEnvelope(msg.ID, err))
		return
	}

	// A successful select retargets this client's coarse subscription.
	if msg.Type == stream.TypeSelect {
		var p stream.SelectPayload
		if msg.ParsePayload(&p) == nil && p.TerminalID != "" {
			c.Subscribe(p.TerminalID)
		}
	}

	if reply != nil {
		c.SendMessage(reply)
	}
}

// SendMessage queues an envelope for this client, dropping it when the
// queue is full.
func (c *Client) SendMessage(msg *stream.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("send queue full, dropping message",
			zap.String("type", string(msg.Type)))
	}
}

// WritePump drains the send queue to the socket and pings on the heartbeat
// cadence.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
