package stream

import "context"

// Handler is the interface for stream message handlers.
type Handler interface {
	// Handle processes an inbound envelope and returns an optional reply.
	Handle(ctx context.Context, msg *Message) (*Message, error)
}

// HandlerFunc is a function type that implements Handler.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) (*Message, error) {
	return f(ctx, msg)
}

// Dispatcher routes envelopes to handlers by message type.
type Dispatcher struct {
	handlers map[MessageType]Handler
}

// NewDispatcher creates a new message dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[MessageType]Handler),
	}
}

// Register registers a handler for a message type.
func (d *Dispatcher) Register(msgType MessageType, handler Handler) {
	d.handlers[msgType] = handler
}

// RegisterFunc registers a handler function for a message type.
func (d *Dispatcher) RegisterFunc(msgType MessageType, handler HandlerFunc) {
	d.handlers[msgType] = handler
}

// Dispatch routes an envelope to the registered handler. An unknown type
// yields an in-band error envelope, never a dropped connection.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (*Message, error) {
	handler, ok := d.handlers[msg.Type]
	if !ok {
		return NewError(msg.ID, "MESSAGE_INVALID", "unknown message type: "+string(msg.Type)), nil
	}
	return handler.Handle(ctx, msg)
}

// HasHandler returns true if a handler is registered for the message type.
func (d *Dispatcher) HasHandler(msgType MessageType) bool {
	_, ok := d.handlers[msgType]
	return ok
}
