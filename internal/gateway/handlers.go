package gateway

import (
	"context"

	apperrors "github.com/termport/termport/internal/common/errors"
	"github.com/termport/termport/internal/registry"
	"github.com/termport/termport/pkg/stream"
)

// RegisterHandlers wires the control message handlers into the dispatcher.
func RegisterHandlers(d *stream.Dispatcher, reg *registry.Registry) {
	d.RegisterFunc(stream.TypeInput, func(ctx context.Context, msg *stream.Message) (*stream.Message, error) {
		var p stream.InputPayload
		if err := msg.ParsePayload(&p); err != nil {
			return nil, apperrors.MessageInvalid("malformed input payload: " + err.Error())
		}
		if err := reg.SendInput(p.TerminalID, []byte(p.Data)); err != nil {
			return nil, err
		}
		return nil, nil
	})

	d.RegisterFunc(stream.TypeResize, func(ctx context.Context, msg *stream.Message) (*stream.Message, error) {
		var p stream.ResizePayload
		if err := msg.ParsePayload(&p); err != nil {
			return nil, apperrors.MessageInvalid("malformed resize payload: " + err.Error())
		}
		if err := reg.Resize(p.TerminalID, p.Cols, p.Rows); err != nil {
			return nil, err
		}
		return nil, nil
	})

	d.RegisterFunc(stream.TypeSelect, func(ctx context.Context, msg *stream.Message) (*stream.Message, error) {
		var p stream.SelectPayload
		if err := msg.ParsePayload(&p); err != nil {
			return nil, apperrors.MessageInvalid("malformed select payload: " + err.Error())
		}
		if err := reg.Select(p.TerminalID); err != nil {
			return nil, err
		}
		return nil, nil
	})

	d.RegisterFunc(stream.TypePing, func(ctx context.Context, msg *stream.Message) (*stream.Message, error) {
		return stream.NewReply(msg.ID, stream.TypePong, nil)
	})
}

// errorEnvelope maps an operation error onto an in-band error envelope.
func errorEnvelope(inReplyTo string, err error) *stream.Message {
	return stream.NewError(inReplyTo, apperrors.Code(err), err.Error())
}

// listEnvelope snapshots the registry into a list envelope.
func listEnvelope(reg *registry.Registry) *stream.Message {
	sessions := reg.List()
	payload := stream.ListPayload{
		Terminals: make([]stream.TerminalSummary, 0, len(sessions)),
		ActiveID:  reg.ActiveID(),
	}
	for _, s := range sessions {
		payload.Terminals = append(payload.Terminals, stream.TerminalSummary{
			ID:            s.ID,
			Name:          s.Name,
			ShellKind:     string(s.ShellKind),
			Status:        string(s.Status),
			AgentDetected: s.AgentDetected,
			Cols:          s.Cols,
			Rows:          s.Rows,
			CreatedAt:     s.CreatedAt,
		})
	}
	msg, _ := stream.New(stream.TypeList, payload)
	return msg
}
