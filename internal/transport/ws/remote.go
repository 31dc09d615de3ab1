package ws

import (
	"context"

	"github.com/google/uuid"

	"sharedworld.ai/internal/protocol"
	"sharedworld.ai/internal/sim/command"
)

// RemoteAgent is the coordinator's handle on an agent behind a websocket.
type RemoteAgent struct {
	name string
	peer *peer
}

func (a *RemoteAgent) Name() string { return a.name }

func (a *RemoteAgent) Welcome(ctx context.Context, msg protocol.WelcomeMsg) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	ack, err := a.peer.call(ctx, msg.ID, msg)
	if err != nil {
		return err
	}
	return ackError(ack)
}

func (a *RemoteAgent) Advance(ctx context.Context, step uint64, general, private []command.Command) (bool, error) {
	msg := protocol.AdvanceMsg{
		Type:            protocol.TypeAdvance,
		ProtocolVersion: protocol.Version,
		ID:              uuid.NewString(),
		Step:            step,
		General:         general,
		Private:         private,
	}
	ack, err := a.peer.call(ctx, msg.ID, msg)
	if err != nil {
		return false, err
	}
	if err := ackError(ack); err != nil {
		return false, err
	}
	return ack.Moved, nil
}

// ApplyNow writes an APPLY frame and returns; the agent does not acknowledge it.
func (a *RemoteAgent) ApplyNow(ctx context.Context, cmds []command.Command) error {
	return a.peer.send(ctx, protocol.ApplyMsg{
		Type:            protocol.TypeApply,
		ProtocolVersion: protocol.Version,
		ID:              uuid.NewString(),
		Commands:        cmds,
	})
}

func (a *RemoteAgent) Ping(ctx context.Context) error {
	msg := protocol.PingMsg{Type: protocol.TypePing, ProtocolVersion: protocol.Version, ID: uuid.NewString()}
	ack, err := a.peer.call(ctx, msg.ID, msg)
	if err != nil {
		return err
	}
	return ackError(ack)
}
