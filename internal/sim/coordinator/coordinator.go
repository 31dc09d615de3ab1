package coordinator

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sharedworld.ai/internal/liveness"
	"sharedworld.ai/internal/protocol"
	"sharedworld.ai/internal/sim/command"
	"sharedworld.ai/internal/sim/dispatch"
	"sharedworld.ai/internal/sim/ledger"
	"sharedworld.ai/internal/sim/logic/callguard"
	"sharedworld.ai/internal/sim/replay"
	"sharedworld.ai/internal/sim/world"
)

type Config struct {
	Grouped     bool
	CallTimeout time.Duration
	TickRateHz  int

	// ParallelAdvance fans Advance calls out concurrently, at most MaxParallel
	// at a time (0 = unlimited).
	ParallelAdvance bool
	MaxParallel     int

	// ReplayWindow is the number of committed steps kept for History.
	ReplayWindow int
}

func (c *Config) normalize() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = dispatch.DefaultCallTimeout
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 10
	}
	if c.MaxParallel < 0 {
		c.MaxParallel = 0
	}
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = 256
	}
}

// StepReport describes one completed step. It is also the step log record.
type StepReport struct {
	Step          uint64            `json:"step"`
	Departed      []string          `json:"departed,omitempty"`
	Admitted      []string          `json:"admitted,omitempty"`
	Order         []string          `json:"order,omitempty"`
	Advanced      []string          `json:"advanced,omitempty"`
	Failed        []string          `json:"failed,omitempty"`
	Moved         []string          `json:"moved,omitempty"`
	General       []command.Command `json:"general,omitempty"`
	PrivateCounts map[string]int    `json:"private_counts,omitempty"`
	Broadcast     []command.Command `json:"broadcast,omitempty"`
	Duration      time.Duration     `json:"duration_ns"`
}

// StepLogger persists step reports. Implemented in internal/persistence/*.
type StepLogger interface {
	WriteStep(rep StepReport) error
}

// Liveness is notified when agents enter and leave the registry.
type Liveness interface {
	Watch(name string, p liveness.Pinger)
	Unwatch(name string)
}

// Coordinator owns the authoritative world and drives every registered agent
// through the same sequence of steps.
type Coordinator struct {
	cfg     Config
	log     *log.Logger
	world   *world.World
	ledger  *ledger.Ledger
	history *replay.Buffer
	policy  *dispatch.Policy
	handles HandleResolver

	reg        *registry
	arrivals   *nameQueue
	departures *nameQueue

	stepMu   sync.Mutex
	step     atomic.Uint64
	rotation uint64

	tapMu sync.Mutex
	taps  map[string]*tap

	stepLogger StepLogger
	live       Liveness

	metrics atomic.Value
	stop    chan struct{}
	once    sync.Once
}

func New(cfg Config, w *world.World, handles HandleResolver, logger *log.Logger) *Coordinator {
	cfg.normalize()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Coordinator{
		cfg:        cfg,
		log:        logger,
		world:      w,
		ledger:     ledger.New(),
		history:    replay.NewBuffer(cfg.ReplayWindow),
		handles:    handles,
		reg:        newRegistry(),
		arrivals:   newNameQueue(),
		departures: newNameQueue(),
		taps:       map[string]*tap{},
		stop:       make(chan struct{}),
	}
	c.policy = dispatch.NewPolicy(dispatch.Config{Grouped: cfg.Grouped, CallTimeout: cfg.CallTimeout}, c.ledger, c.history, c, logger)
	w.SetRecorder(c.policy)
	return c
}

func (c *Coordinator) SetStepLogger(l StepLogger) { c.stepLogger = l }
func (c *Coordinator) SetLiveness(l Liveness) { c.live = l }

func (c *Coordinator) Config() Config { return c.cfg }
func (c *Coordinator) World() *world.World { return c.world }
func (c *Coordinator) CurrentStep() uint64 { return c.step.Load() }
func (c *Coordinator) Names() []string { return c.reg.names() }
func (c *Coordinator) Len() int { return c.reg.len() }
func (c *Coordinator) Joined(name string) bool {
	_, ok := c.reg.get(name)
	return ok
}

// Announce queues an agent for admission at the next step boundary. It never
// blocks; announcing a name that is already pending is a no-op.
func (c *Coordinator) Announce(name string) {
	if name == "" {
		return
	}
	c.arrivals.push(name)
}

// Remove queues an agent for removal at the next step boundary.
func (c *Coordinator) Remove(name string) {
	if name == "" {
		return
	}
	c.departures.push(name)
}

func (c *Coordinator) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(c.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	return c.RunTicks(ctx, ticker.C)
}

// RunTicks runs one step per value received on ticks.
func (c *Coordinator) RunTicks(ctx context.Context, ticks <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		case <-ticks:
			c.Step(ctx)
		}
	}
}

func (c *Coordinator) Stop() { c.once.Do(func() { close(c.stop) }) }

// Step runs one full step: departures, admissions, ledger drain, world upkeep,
// agent advancement and commit. Steps never overlap.
func (c *Coordinator) Step(ctx context.Context) StepReport {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	start := time.Now()
	step := c.step.Load()
	rep := StepReport{Step: step}

	rep.Departed = c.applyDepartures()
	rep.Admitted = c.admitArrivals(ctx, step)

	snap := c.policy.Drain()
	rep.General = snap.General
	if len(snap.Private) > 0 {
		rep.PrivateCounts = make(map[string]int, len(snap.Private))
		for name, cmds := range snap.Private {
			rep.PrivateCounts[name] = len(cmds)
		}
	}

	c.world.Upkeep(step)
	c.advanceAgents(ctx, step, snap, &rep)

	if err := c.history.Commit(step); err != nil {
		c.log.Printf("commit step %d: %v", step, err)
	}
	if e, ok := c.history.Entry(step); ok {
		rep.Broadcast = e.Commands
	}
	c.step.Store(step + 1)
	rep.Duration = time.Since(start)

	if c.stepLogger != nil {
		if err := c.stepLogger.WriteStep(rep); err != nil {
			c.log.Printf("step log: %v", err)
		}
	}
	c.storeMetrics(rep)
	return rep
}

func (c *Coordinator) applyDepartures() []string {
	var out []string
	for _, name := range c.departures.drain() {
		if !c.reg.remove(name) {
			continue
		}
		if c.live != nil {
			c.live.Unwatch(name)
		}
		c.policy.Purge(name)
		c.world.RemoveAgent(name)
		c.log.Printf("agent %s left", name)
		out = append(out, name)
	}
	return out
}

func (c *Coordinator) admitArrivals(ctx context.Context, step uint64) []string {
	var out []string
	for _, name := range c.arrivals.drain() {
		if c.admit(ctx, step, name) {
			out = append(out, name)
		}
	}
	return out
}

// admit welcomes one agent and inserts it into the registry. Commands addressed
// to the agent between the state snapshot and its insertion are captured and
// pushed right after.
func (c *Coordinator) admit(ctx context.Context, step uint64, name string) bool {
	if _, ok := c.reg.get(name); ok {
		c.log.Printf("agent %s already joined", name)
		return false
	}
	h, err := c.handles.Resolve(ctx, name)
	if err != nil {
		c.log.Printf("resolve %s: %v", name, err)
		return false
	}

	c.openTap(name)
	pose := c.world.SpawnPoseFor(name)
	msg := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ID:              uuid.NewString(),
		AgentName:       name,
		Step:            step,
		Start:           pose,
		State:           c.world.Snapshot(),
		Possessions:     c.world.Possessions(name),
		Params: protocol.WorldParams{
			TickRateHz:    c.cfg.TickRateHz,
			Grouped:       c.cfg.Grouped,
			CallTimeoutMS: int(c.cfg.CallTimeout / time.Millisecond),
		},
	}
	err = callguard.Do(ctx, c.cfg.CallTimeout, func(ctx context.Context) error {
		return h.Welcome(ctx, msg)
	})
	if err != nil {
		c.closeTap(name)
		c.log.Printf("welcome %s: %v", name, err)
		return false
	}

	if !c.world.AddAgent(name, pose, c.world.DefaultShape()) {
		c.log.Printf("agent %s body already present", name)
	}
	c.reg.add(name, h)
	if missed := c.closeTap(name); len(missed) > 0 {
		err := callguard.Do(ctx, c.cfg.CallTimeout, func(ctx context.Context) error {
			return h.ApplyNow(ctx, missed)
		})
		if err != nil {
			c.log.Printf("catch-up %s: %v", name, err)
		}
	}
	if c.live != nil {
		c.live.Watch(name, h)
	}
	c.log.Printf("agent %s joined at step %d", name, step)
	return true
}

type advanceOutcome struct {
	moved bool
	err   error
}

func (c *Coordinator) advanceAgents(ctx context.Context, step uint64, snap ledger.Snapshot, rep *StepReport) {
	members := c.reg.members()
	if len(members) == 0 {
		return
	}
	order := rotate(members, int(c.rotation%uint64(len(members))))
	c.rotation++

	// Container-scoped commands reach the container's watchers as of the drain.
	var watchers map[string][]string
	if ids := snap.Containers(); len(ids) > 0 {
		watchers = make(map[string][]string, len(ids))
		for _, id := range ids {
			watchers[id] = c.world.Watchers(id)
		}
	}

	out := make([]advanceOutcome, len(order))
	run := func(i int) {
		m := order[i]
		general := snap.GeneralFor(m.name, watchers)
		private := snap.PrivateFor(m.name)
		var moved bool
		err := callguard.Do(ctx, c.cfg.CallTimeout, func(ctx context.Context) error {
			mv, err := m.handle.Advance(ctx, step, general, private)
			moved = mv
			return err
		})
		if err == nil {
			out[i] = advanceOutcome{moved: moved}
			return
		}
		out[i] = advanceOutcome{err: err}
	}

	if c.cfg.ParallelAdvance {
		var g errgroup.Group
		if c.cfg.MaxParallel > 0 {
			g.SetLimit(c.cfg.MaxParallel)
		}
		for i := range order {
			i := i
			g.Go(func() error {
				run(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range order {
			run(i)
		}
	}

	for i, m := range order {
		rep.Order = append(rep.Order, m.name)
		if err := out[i].err; err != nil {
			if errors.Is(err, callguard.ErrTimeout) {
				c.log.Printf("advance %s step %d: timed out", m.name, step)
			} else {
				c.log.Printf("advance %s step %d: %v", m.name, step, err)
			}
			rep.Failed = append(rep.Failed, m.name)
			continue
		}
		rep.Advanced = append(rep.Advanced, m.name)
		if out[i].moved {
			rep.Moved = append(rep.Moved, m.name)
		}
	}
}

// History returns the broadcast commands committed after step since.
func (c *Coordinator) History(since uint64) (step uint64, cmds []command.Command, ok bool) {
	return c.history.Since(since)
}

// Snapshot returns the full shared state and the number of committed steps.
func (c *Coordinator) Snapshot() (uint64, command.WorldState) {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()
	return c.step.Load(), c.world.Snapshot()
}

// Reset restores the world layout. Agents stay registered.
func (c *Coordinator) Reset() bool { return c.world.Reset() }
