package agent

import (
	"context"

	"sharedworld.ai/internal/agent/join"
	"sharedworld.ai/internal/protocol"
)

type announcer interface {
	Announce(name string)
}

type intentRouter interface {
	Intent(agent string, in protocol.IntentMsg) protocol.AckMsg
}

// Direct connects in-process agents to an in-process coordinator.
type Direct struct {
	C interface {
		announcer
		intentRouter
	}
}

// Resolve implements join.Resolver; every name maps to the same coordinator.
func (d Direct) Resolve(ctx context.Context, name string) (join.Coordinator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d Direct) Announce(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.C.Announce(name)
	return nil
}

// Sender returns an IntentSender acting as agent.
func (d Direct) Sender(agent string) IntentSender {
	return directSender{c: d.C, agent: agent}
}

type directSender struct {
	c     intentRouter
	agent string
}

func (s directSender) Intent(ctx context.Context, in protocol.IntentMsg) (protocol.AckMsg, error) {
	if err := ctx.Err(); err != nil {
		return protocol.AckMsg{}, err
	}
	return s.c.Intent(s.agent, in), nil
}
