// Package agent assembles an agent process: the serialized adapter, the world
// replica and the behavior that drives it.
package agent

import (
	"context"
	"log"

	"sharedworld.ai/internal/agent/adapter"
	"sharedworld.ai/internal/agent/join"
	"sharedworld.ai/internal/agent/replica"
	"sharedworld.ai/internal/protocol"
	"sharedworld.ai/internal/sim/command"
)

// Local is an agent handle living in the same process as its caller. The
// coordinator drives it directly; the ws client drives it over the wire.
type Local struct {
	name    string
	adapter *adapter.Adapter
	replica *replica.Replica
	gate    *join.Gate
	moved   chan struct{}
}

func NewLocal(name string, speed float64, historyWindow int, logger *log.Logger) *Local {
	r := replica.New(name, speed)
	return &Local{
		name:    name,
		adapter: adapter.New(name, r, historyWindow, logger),
		replica: r,
		gate:    join.NewGate(),
		moved:   make(chan struct{}, 1),
	}
}

func (l *Local) Name() string { return l.name }
func (l *Local) Gate() *join.Gate { return l.gate }
func (l *Local) Moved() <-chan struct{} { return l.moved }

func (l *Local) Welcome(ctx context.Context, msg protocol.WelcomeMsg) error {
	err := l.adapter.Do(ctx, func(adapter.Physics) {
		l.replica.Welcome(msg.State, msg.Start, msg.Possessions)
	})
	if err != nil {
		return err
	}
	l.gate.Deliver(msg)
	return nil
}

func (l *Local) Advance(ctx context.Context, step uint64, general, private []command.Command) (bool, error) {
	res, err := l.adapter.Advance(ctx, step, general, private)
	if err != nil {
		return false, err
	}
	if res.Moved {
		select {
		case l.moved <- struct{}{}:
		default:
		}
	}
	return res.Moved, nil
}

func (l *Local) ApplyNow(ctx context.Context, cmds []command.Command) error {
	return l.adapter.ApplyNow(ctx, cmds)
}

// Ping succeeds once the adapter goroutine has worked through its queue.
func (l *Local) Ping(ctx context.Context) error {
	return l.adapter.Do(ctx, func(adapter.Physics) {})
}

// View runs fn on the adapter goroutine with exclusive access to the replica.
func (l *Local) View(ctx context.Context, fn func(r *replica.Replica)) error {
	return l.adapter.Do(ctx, func(adapter.Physics) { fn(l.replica) })
}

func (l *Local) History(since uint64) (uint64, []command.Command, bool) {
	return l.adapter.History(since)
}

func (l *Local) Close() { l.adapter.Close() }
