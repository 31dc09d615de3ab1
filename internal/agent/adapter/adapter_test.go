package adapter

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sharedworld.ai/internal/sim/command"
)

type recordingPhysics struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32

	mu      sync.Mutex
	applied []string
	steps   []uint64
	allow   []bool

	block     chan struct{}
	panicStep uint64
}

func (p *recordingPhysics) enter() func() {
	n := p.inFlight.Add(1)
	for {
		m := p.maxSeen.Load()
		if n <= m || p.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	return func() { p.inFlight.Add(-1) }
}

func (p *recordingPhysics) ApplyCommands(cmds []command.Command) {
	defer p.enter()()
	time.Sleep(100 * time.Microsecond)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range cmds {
		p.applied = append(p.applied, c.Target)
	}
}

func (p *recordingPhysics) StepSimulation(step uint64, allowMotion bool) bool {
	defer p.enter()()
	if p.block != nil {
		<-p.block
	}
	if p.panicStep != 0 && step == p.panicStep {
		panic("boom")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, step)
	p.allow = append(p.allow, allowMotion)
	return allowMotion
}

func (p *recordingPhysics) appliedTargets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.applied...)
}

func update(target string) command.Command {
	return command.NewEntityUpdated(command.Entity{ID: target, Kind: command.KindObject}, command.AllAgents())
}

func private(target, agent string) command.Command {
	return command.NewEntityUpdated(command.Entity{ID: target, Kind: command.KindObject}, command.SpecificAgent(agent))
}

func TestAdapter_SerializesConcurrentCalls(t *testing.T) {
	p := &recordingPhysics{}
	a := New("bot", p, 0, nil)
	defer a.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = a.ApplyNow(context.Background(), []command.Command{update("x")})
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _ = a.Advance(context.Background(), uint64(i+1), []command.Command{update("y")}, nil)
		}(i)
	}
	wg.Wait()
	if err := a.Do(context.Background(), func(Physics) {}); err != nil {
		t.Fatalf("do: %v", err)
	}
	if m := p.maxSeen.Load(); m != 1 {
		t.Fatalf("simulation entered concurrently: max in flight %d", m)
	}
}

func TestAdapter_ApplyNowDoesNotWaitForRunningAdvance(t *testing.T) {
	p := &recordingPhysics{block: make(chan struct{})}
	a := New("bot", p, 0, nil)
	defer a.Close()

	advanced := make(chan AdvanceResult, 1)
	go func() {
		r, _ := a.Advance(context.Background(), 1, []command.Command{update("g")}, nil)
		advanced <- r
	}()
	for a.Pending() == 0 {
		time.Sleep(time.Millisecond)
	}

	done := make(chan error, 1)
	go func() { done <- a.ApplyNow(context.Background(), []command.Command{update("late")}) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("apply now: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("ApplyNow blocked behind a running advance")
	}

	close(p.block)
	if r := <-advanced; r.Step != 1 || !r.Moved {
		t.Fatalf("advance result=%+v", r)
	}
	if err := a.Do(context.Background(), func(Physics) {}); err != nil {
		t.Fatalf("do: %v", err)
	}
	if got := p.appliedTargets(); !reflect.DeepEqual(got, []string{"g", "late"}) {
		t.Fatalf("applied=%v want arrival order", got)
	}
}

func TestAdapter_AdvanceHonorsContext(t *testing.T) {
	p := &recordingPhysics{block: make(chan struct{})}
	a := New("bot", p, 0, nil)
	defer a.Close()
	defer close(p.block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := a.Advance(ctx, 1, nil, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}

func TestAdapter_BetweenTickBufferJoinsNextHistoryEntry(t *testing.T) {
	p := &recordingPhysics{}
	a := New("bot", p, 0, nil)
	defer a.Close()
	ctx := context.Background()

	if _, err := a.Advance(ctx, 2, []command.Command{update("a")}, nil); err != nil {
		t.Fatalf("advance: %v", err)
	}
	_ = a.ApplyNow(ctx, []command.Command{update("pushed"), private("mine", "bot")})
	if _, err := a.Advance(ctx, 3, []command.Command{update("b")}, []command.Command{private("p", "bot")}); err != nil {
		t.Fatalf("advance: %v", err)
	}

	step, cmds, ok := a.History(2)
	if !ok || step != 3 {
		t.Fatalf("history step=%d ok=%v", step, ok)
	}
	var got []string
	for _, c := range cmds {
		got = append(got, c.Target)
	}
	if !reflect.DeepEqual(got, []string{"pushed", "b"}) {
		t.Fatalf("history=%v want pushed then general, no private", got)
	}
}

func TestAdapter_WorldResetSuppressesMotion(t *testing.T) {
	p := &recordingPhysics{}
	a := New("bot", p, 0, nil)
	defer a.Close()
	ctx := context.Background()

	r1, _ := a.Advance(ctx, 1, []command.Command{command.NewWorldReset()}, nil)
	_ = a.ApplyNow(ctx, []command.Command{command.NewWorldReset()})
	r2, _ := a.Advance(ctx, 2, nil, nil)
	r3, _ := a.Advance(ctx, 3, nil, nil)
	if r1.Moved || r2.Moved || !r3.Moved {
		t.Fatalf("moved=%v,%v,%v want false,false,true", r1.Moved, r2.Moved, r3.Moved)
	}
}

func TestAdapter_RecoversSimulationPanic(t *testing.T) {
	p := &recordingPhysics{panicStep: 2}
	a := New("bot", p, 0, nil)
	defer a.Close()
	ctx := context.Background()

	r, err := a.Advance(ctx, 2, nil, nil)
	if err != nil || !r.Recovered || r.Moved {
		t.Fatalf("result=%+v err=%v", r, err)
	}
	if r, err := a.Advance(ctx, 3, nil, nil); err != nil || !r.Moved {
		t.Fatalf("adapter unusable after panic: %+v %v", r, err)
	}
}

func TestAdapter_CloseDrainsQueue(t *testing.T) {
	p := &recordingPhysics{}
	a := New("bot", p, 0, nil)
	for i := 0; i < 5; i++ {
		_ = a.ApplyNow(context.Background(), []command.Command{update("x")})
	}
	a.Close()
	if got := len(p.appliedTargets()); got != 5 {
		t.Fatalf("applied %d of 5 before close", got)
	}
	if err := a.ApplyNow(context.Background(), []command.Command{update("x")}); !errors.Is(err, ErrClosed) {
		t.Fatalf("apply after close err=%v", err)
	}
	if _, err := a.Advance(context.Background(), 9, nil, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("advance after close err=%v", err)
	}
}
