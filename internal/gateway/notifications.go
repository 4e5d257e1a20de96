package gateway

import (
	"context"
	"encoding/base64"

	"go.uber.org/zap"

	"github.com/termport/termport/internal/common/logger"
	"github.com/termport/termport/internal/events"
	"github.com/termport/termport/internal/events/bus"
	"github.com/termport/termport/internal/registry"
	"github.com/termport/termport/pkg/stream"
)

// Notifier bridges registry events to hub broadcasts. Every admitted
// client receives every notification; clients filter locally.
type Notifier struct {
	hub      *Hub
	registry *registry.Registry
	bus      bus.EventBus
	logger   *logger.Logger
}

// NewNotifier creates the registry-to-hub event bridge.
func NewNotifier(hub *Hub, reg *registry.Registry, eventBus bus.EventBus, log *logger.Logger) *Notifier {
	return &Notifier{
		hub:      hub,
		registry: reg,
		bus:      eventBus,
		logger:   log.WithFields(zap.String("component", "notifier")),
	}
}

// Run subscribes to registry notifications and forwards them until ctx is
// cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	subs := make([]bus.Subscription, 0, 3)
	subscribe := func(subject string, handler bus.EventHandler) error {
		sub, err := n.bus.Subscribe(subject, handler)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		return nil
	}

	if err := subscribe(events.TerminalOutput, n.onOutput); err != nil {
		return err
	}
	if err := subscribe(events.TerminalListChanged, n.onListChanged); err != nil {
		return err
	}
	if err := subscribe(events.TerminalStatusChanged, n.onStatusChanged); err != nil {
		return err
	}

	<-ctx.Done()
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Warn("failed to unsubscribe", zap.Error(err))
		}
	}
	return ctx.Err()
}

func (n *Notifier) onOutput(ctx context.Context, event *bus.Event) error {
	id := event.String(events.KeyTerminalID)
	data, err := base64.StdEncoding.DecodeString(event.String(events.KeyDataB64))
	if err != nil {
		n.logger.Warn("discarding malformed output event", zap.Error(err))
		return nil
	}
	msg, err := stream.New(stream.TypeOutput, stream.OutputPayload{
		TerminalID: id,
		Data:       string(data),
		Seq:        uint64(event.Int(events.KeySeq)),
	})
	if err != nil {
		return err
	}
	n.hub.Broadcast(msg)
	return nil
}

func (n *Notifier) onListChanged(ctx context.Context, event *bus.Event) error {
	n.hub.Broadcast(listEnvelope(n.registry))
	return nil
}

func (n *Notifier) onStatusChanged(ctx context.Context, event *bus.Event) error {
	msg, err := stream.New(stream.TypeStatus, stream.StatusPayload{
		TerminalID: event.String(events.KeyTerminalID),
		Status:     event.String(events.KeyStatus),
	})
	if err != nil {
		return err
	}
	n.hub.Broadcast(msg)
	return nil
}
