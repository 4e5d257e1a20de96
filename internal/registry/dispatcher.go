package registry

import (
	"context"
	"encoding/base64"

	"go.uber.org/zap"

	"github.com/termport/termport/internal/events"
	"github.com/termport/termport/internal/events/bus"
)

// Run subscribes the registry to host terminal events and dispatches them
// into registry operations until ctx is cancelled. Events arrive in
// publication order per terminal; the bus guarantees that for both the
// in-memory and NATS implementations.
func (r *Registry) Run(ctx context.Context) error {
	subs := make([]bus.Subscription, 0, 5)
	subscribe := func(subject string, handler bus.EventHandler) error {
		sub, err := r.bus.Subscribe(subject, handler)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		return nil
	}

	if err := subscribe(events.HostTerminalOpened, r.onHostOpened); err != nil {
		return err
	}
	if err := subscribe(events.HostTerminalClosed, r.onHostClosed); err != nil {
		return err
	}
	if err := subscribe(events.HostTerminalOutput, r.onHostOutput); err != nil {
		return err
	}
	if err := subscribe(events.HostTerminalActivity, r.onHostActivity); err != nil {
		return err
	}
	if err := subscribe(events.HostActiveChanged, r.onHostActiveChanged); err != nil {
		return err
	}

	<-ctx.Done()
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Warn("failed to unsubscribe", zap.Error(err))
		}
	}
	return ctx.Err()
}

func (r *Registry) onHostOpened(ctx context.Context, event *bus.Event) error {
	r.Register(TerminalSession{
		ID:        event.String(events.KeyTerminalID),
		Name:      event.String(events.KeyName),
		PID:       event.Int(events.KeyPID),
		WorkDir:   event.String(events.KeyWorkDir),
		ShellKind: ShellKind(event.String(events.KeyShellKind)),
		Command:   event.String(events.KeyCommand),
		Cols:      event.Int(events.KeyCols),
		Rows:      event.Int(events.KeyRows),
	})
	return nil
}

func (r *Registry) onHostClosed(ctx context.Context, event *bus.Event) error {
	id := event.String(events.KeyTerminalID)
	if event.Bool(events.KeyCrashed) {
		r.MarkCrashed(id)
		return nil
	}
	r.Unregister(id)
	return nil
}

func (r *Registry) onHostOutput(ctx context.Context, event *bus.Event) error {
	id := event.String(events.KeyTerminalID)
	data, err := base64.StdEncoding.DecodeString(event.String(events.KeyDataB64))
	if err != nil {
		r.logger.Warn("discarding malformed output event",
			zap.String("terminal_id", id), zap.Error(err))
		return nil
	}
	r.AppendOutput(id, string(data))
	return nil
}

func (r *Registry) onHostActivity(ctx context.Context, event *bus.Event) error {
	r.Activity(
		event.String(events.KeyTerminalID),
		event.String(events.KeyCommand),
	)
	return nil
}

func (r *Registry) onHostActiveChanged(ctx context.Context, event *bus.Event) error {
	id := event.String(events.KeyTerminalID)
	if err := r.Select(id); err != nil {
		r.logger.Debug("active change for unknown terminal ignored",
			zap.String("terminal_id", id))
	}
	return nil
}
