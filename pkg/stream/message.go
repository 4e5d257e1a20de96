// Package stream provides the streaming envelope types and protocol
// definitions shared by the gateway and its clients.
package stream

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of envelope travelling over a stream
// connection.
type MessageType string

// Client to server message types.
const (
	TypeInput  MessageType = "input"
	TypeResize MessageType = "resize"
	TypeSelect MessageType = "select"
	TypePing   MessageType = "ping"
)

// Server to client message types.
const (
	TypeOutput       MessageType = "output"
	TypeList         MessageType = "list"
	TypeStatus       MessageType = "status"
	TypeError        MessageType = "error"
	TypePong         MessageType = "pong"
	TypeConnectedAck MessageType = "connected-ack"
)

// Close reasons carried in the close frame when the server terminates a
// connection during or after the handshake.
const (
	CloseReasonUnauthorized     = "unauthorized"
	CloseReasonCapacityExceeded = "capacity-exceeded"
	CloseReasonHeartbeatTimeout = "heartbeat-timeout"
	CloseReasonShutdown         = "server-shutdown"
)

// Message is the uniform envelope for all streaming traffic.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the payload of an in-band error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New creates an envelope of the given type with a fresh id and the payload
// marshalled in place.
func New(msgType MessageType, payload interface{}) (*Message, error) {
	return newWithID(uuid.New().String(), msgType, payload)
}

// NewReply creates an envelope that answers the inbound envelope id, so
// clients can correlate request and reply.
func NewReply(inReplyTo string, msgType MessageType, payload interface{}) (*Message, error) {
	return newWithID(inReplyTo, msgType, payload)
}

// NewError creates an in-band error envelope. The connection stays open
// after it is delivered.
func NewError(inReplyTo, code, message string) *Message {
	data, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return &Message{
		ID:        inReplyTo,
		Type:      TypeError,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}
}

func newWithID(id string, msgType MessageType, payload interface{}) (*Message, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return &Message{
		ID:        id,
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}, nil
}

// ParsePayload parses the payload into the given struct.
func (m *Message) ParsePayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
