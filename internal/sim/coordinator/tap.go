package coordinator

import (
	"context"
	"sync"

	"sharedworld.ai/internal/sim/command"
	"sharedworld.ai/internal/sim/dispatch"
)

// tap captures pushes addressed to an agent that is being welcomed but is not
// in the registry yet.
type tap struct {
	mu   sync.Mutex
	cmds []command.Command
}

func (t *tap) ApplyNow(_ context.Context, cmds []command.Command) error {
	t.mu.Lock()
	t.cmds = append(t.cmds, cmds...)
	t.mu.Unlock()
	return nil
}

func (c *Coordinator) openTap(name string) {
	c.tapMu.Lock()
	c.taps[name] = &tap{}
	c.tapMu.Unlock()
}

func (c *Coordinator) closeTap(name string) []command.Command {
	c.tapMu.Lock()
	t := c.taps[name]
	delete(c.taps, name)
	c.tapMu.Unlock()
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cmds
}

// Resolve maps a scope onto registered agents, plus any agent currently being
// welcomed. It implements dispatch.Resolver.
func (c *Coordinator) Resolve(scope command.Scope) []dispatch.Target {
	var out []dispatch.Target
	switch scope.Kind {
	case command.ScopeAllAgents:
		for _, m := range c.reg.members() {
			out = append(out, dispatch.Target{Agent: m.name, Pusher: m.handle})
		}
	case command.ScopeWatchingContainer:
		for _, name := range c.world.Watchers(scope.ContainerID) {
			if h, ok := c.reg.get(name); ok {
				out = append(out, dispatch.Target{Agent: name, Pusher: h})
			}
		}
	case command.ScopeSpecificAgent:
		if h, ok := c.reg.get(scope.Agent); ok {
			out = append(out, dispatch.Target{Agent: scope.Agent, Pusher: h})
		}
	}

	c.tapMu.Lock()
	defer c.tapMu.Unlock()
	for name, t := range c.taps {
		if scope.Kind == command.ScopeAllAgents || (scope.Kind == command.ScopeSpecificAgent && scope.Agent == name) {
			out = append(out, dispatch.Target{Agent: name, Pusher: t})
		}
	}
	return out
}
