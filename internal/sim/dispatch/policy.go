package dispatch

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"sharedworld.ai/internal/sim/command"
	"sharedworld.ai/internal/sim/ledger"
	"sharedworld.ai/internal/sim/logic/callguard"
	"sharedworld.ai/internal/sim/replay"
)

const DefaultCallTimeout = 2 * time.Second

// Config is fixed when the coordinator starts.
type Config struct {
	// Grouped defers delivery to the next step boundary instead of pushing
	// every command the moment it is recorded.
	Grouped     bool
	CallTimeout time.Duration
}

// Pusher is the agent entry point used for immediate delivery.
type Pusher interface {
	ApplyNow(ctx context.Context, cmds []command.Command) error
}

type Target struct {
	Agent  string
	Pusher Pusher
}

// Resolver maps a scope onto the agents currently registered for it.
type Resolver interface {
	Resolve(scope command.Scope) []Target
}

type Stats struct {
	Recorded     uint64 `json:"recorded"`
	Pushed       uint64 `json:"pushed"`
	PushFailures uint64 `json:"push_failures"`
}

// Policy decides, per recorded command, between pushing now and leaving it in
// the ledger for the next step.
type Policy struct {
	cfg      Config
	ledger   *ledger.Ledger
	replay   *replay.Buffer
	resolver Resolver
	log      *log.Logger

	recorded     atomic.Uint64
	pushed       atomic.Uint64
	pushFailures atomic.Uint64
}

func NewPolicy(cfg Config, l *ledger.Ledger, r *replay.Buffer, resolver Resolver, logger *log.Logger) *Policy {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Policy{
		cfg:      cfg,
		ledger:   l,
		replay:   r,
		resolver: resolver,
		log:      logger,
	}
}

func (p *Policy) Config() Config { return p.cfg }

// Record never fails from the caller's point of view: delivery problems are
// logged per agent. In immediate mode it returns only after every matched
// agent's push has completed or timed out.
func (p *Policy) Record(cmd command.Command) {
	p.recorded.Add(1)
	if !cmd.Private() {
		p.replay.AppendPending(cmd)
	}
	if p.cfg.Grouped {
		p.ledger.Record(cmd)
		return
	}
	p.push(cmd)
}

func (p *Policy) RecordAll(cmds []command.Command) {
	for _, c := range cmds {
		p.Record(c)
	}
}

func (p *Policy) push(cmd command.Command) {
	if p.resolver == nil {
		return
	}
	targets := p.resolver.Resolve(cmd.Scope)
	if len(targets) == 0 {
		return
	}
	batch := []command.Command{cmd}

	var wg sync.WaitGroup
	for _, t := range targets {
		if cmd.Private() && t.Agent != cmd.Scope.Agent {
			// Resolver bug guard: private commands only ever reach their addressee.
			continue
		}
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			err := callguard.Do(context.Background(), p.cfg.CallTimeout, func(ctx context.Context) error {
				return t.Pusher.ApplyNow(ctx, batch)
			})
			if err != nil {
				p.pushFailures.Add(1)
				p.log.Printf("push %s to %s: %v", cmd.Kind, t.Agent, err)
				return
			}
			p.pushed.Add(1)
		}(t)
	}
	wg.Wait()
}

// Drain returns the commands awaiting the step boundary. In immediate mode
// everything was already pushed and the snapshot is empty.
func (p *Policy) Drain() ledger.Snapshot {
	if !p.cfg.Grouped {
		return ledger.Snapshot{}
	}
	return p.ledger.Drain()
}

func (p *Policy) Purge(agent string) int { return p.ledger.Purge(agent) }

func (p *Policy) Stats() Stats {
	return Stats{
		Recorded:     p.recorded.Load(),
		Pushed:       p.pushed.Load(),
		PushFailures: p.pushFailures.Load(),
	}
}
