// Package adapter serializes every coordinator call into one agent's
// simulation: advances and immediate pushes run one at a time, in arrival
// order, on a single goroutine.
package adapter

import (
	"context"
	"errors"
	"io"
	"log"
	"runtime/debug"
	"sync"

	"sharedworld.ai/internal/sim/command"
	"sharedworld.ai/internal/sim/replay"
)

var ErrClosed = errors.New("adapter: closed")

// Physics is the agent's local simulation. It is only ever called from the
// adapter goroutine.
type Physics interface {
	ApplyCommands(cmds []command.Command)
	// StepSimulation advances one step and reports whether the agent moved.
	StepSimulation(step uint64, allowMotion bool) bool
}

type AdvanceResult struct {
	Step    uint64
	Moved   bool
	Applied int
	// Recovered is set when the simulation panicked during this step.
	Recovered bool
}

type taskKind int

const (
	taskAdvance taskKind = iota
	taskApply
	taskDo
)

type task struct {
	kind    taskKind
	step    uint64
	general []command.Command
	private []command.Command
	cmds    []command.Command
	fn      func(Physics)
	reply   chan AdvanceResult
}

type Adapter struct {
	name string
	phys Physics
	log  *log.Logger

	history *replay.Buffer

	mu      sync.Mutex
	queue   []task
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	running bool

	// between holds non-private commands pushed since the last advance.
	// Only touched by the adapter goroutine.
	between []command.Command
}

// New starts the adapter goroutine. historyWindow bounds the agent's own
// history (<=0 keeps everything).
func New(name string, phys Physics, historyWindow int, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	a := &Adapter{
		name:    name,
		phys:    phys,
		log:     logger,
		history: replay.NewSparseBuffer(historyWindow),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) enqueue(t task) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	a.queue = append(a.queue, t)
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

// Advance runs one step and blocks until it completed. If ctx ends first the
// step still runs later, in order, but its result is discarded.
func (a *Adapter) Advance(ctx context.Context, step uint64, general, private []command.Command) (AdvanceResult, error) {
	t := task{kind: taskAdvance, step: step, general: general, private: private, reply: make(chan AdvanceResult, 1)}
	if !a.enqueue(t) {
		return AdvanceResult{}, ErrClosed
	}
	select {
	case r := <-t.reply:
		return r, nil
	case <-ctx.Done():
		return AdvanceResult{}, ctx.Err()
	}
}

// ApplyNow queues cmds and returns without waiting for them to be applied.
func (a *Adapter) ApplyNow(_ context.Context, cmds []command.Command) error {
	if len(cmds) == 0 {
		return nil
	}
	if !a.enqueue(task{kind: taskApply, cmds: cmds}) {
		return ErrClosed
	}
	return nil
}

// Do runs fn against the simulation on the adapter goroutine and waits for it.
func (a *Adapter) Do(ctx context.Context, fn func(Physics)) error {
	t := task{kind: taskDo, fn: fn, reply: make(chan AdvanceResult, 1)}
	if !a.enqueue(t) {
		return ErrClosed
	}
	select {
	case <-t.reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns the agent's own committed history after step since.
func (a *Adapter) History(since uint64) (step uint64, cmds []command.Command, ok bool) {
	return a.history.Since(since)
}

func (a *Adapter) LastStep() (uint64, bool) { return a.history.Latest() }

// Pending is the number of queued tasks, including the one running.
func (a *Adapter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.queue)
	if a.running {
		n++
	}
	return n
}

// Close stops accepting work, runs what is queued and waits for the goroutine.
func (a *Adapter) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}
	a.mu.Unlock()
	<-a.done
}

func (a *Adapter) loop() {
	defer close(a.done)
	for {
		a.mu.Lock()
		if len(a.queue) == 0 {
			closed := a.closed
			a.mu.Unlock()
			if closed {
				return
			}
			<-a.wake
			continue
		}
		t := a.queue[0]
		a.queue[0] = task{}
		a.queue = a.queue[1:]
		a.running = true
		a.mu.Unlock()

		a.run(t)

		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}
}

func (a *Adapter) run(t task) {
	switch t.kind {
	case taskAdvance:
		t.reply <- a.advance(t)
	case taskApply:
		a.apply(t.cmds)
	case taskDo:
		a.guard("do", func() { t.fn(a.phys) })
		t.reply <- AdvanceResult{}
	}
}

func (a *Adapter) apply(cmds []command.Command) {
	a.guard("apply", func() { a.phys.ApplyCommands(cmds) })
	for _, c := range cmds {
		if !c.Private() {
			a.between = append(a.between, c)
		}
	}
}

func (a *Adapter) advance(t task) AdvanceResult {
	res := AdvanceResult{Step: t.step, Applied: len(t.general) + len(t.private)}

	allowMotion := !command.ContainsKind(t.general, command.WorldReset) &&
		!command.ContainsKind(t.private, command.WorldReset) &&
		!command.ContainsKind(a.between, command.WorldReset)

	a.history.AppendPending(a.between...)
	a.history.AppendPending(t.general...)
	a.between = nil
	if err := a.history.Commit(t.step); err != nil {
		a.log.Printf("agent %s history step %d: %v", a.name, t.step, err)
	}

	ok := a.guard("advance", func() {
		a.phys.ApplyCommands(t.general)
		a.phys.ApplyCommands(t.private)
		res.Moved = a.phys.StepSimulation(t.step, allowMotion)
	})
	if !ok {
		res.Moved = false
		res.Recovered = true
	}
	return res
}

// guard runs fn and converts a panic into a log line.
func (a *Adapter) guard(what string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Printf("agent %s %s panic: %v\n%s", a.name, what, r, debug.Stack())
			ok = false
		}
	}()
	fn()
	return true
}
