package coordinator

import (
	"context"

	"sharedworld.ai/internal/protocol"
	"sharedworld.ai/internal/sim/command"
)

// AgentHandle is the coordinator's view of one agent, local or remote.
// Every call is bounded by the coordinator's call timeout.
type AgentHandle interface {
	// Welcome delivers the starting state. It is called once, before the agent
	// enters the registry.
	Welcome(ctx context.Context, msg protocol.WelcomeMsg) error
	// Advance runs one step on the agent and blocks until it finished.
	// moved reports whether the agent's simulation moved its body.
	Advance(ctx context.Context, step uint64, general, private []command.Command) (moved bool, err error)
	// ApplyNow queues commands on the agent and returns without waiting for them.
	ApplyNow(ctx context.Context, cmds []command.Command) error
	Ping(ctx context.Context) error
}

// HandleResolver finds the handle of an announced agent.
type HandleResolver interface {
	Resolve(ctx context.Context, name string) (AgentHandle, error)
}
