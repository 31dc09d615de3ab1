package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"sharedworld.ai/internal/agent/join"
	"sharedworld.ai/internal/agent/replica"
	"sharedworld.ai/internal/discovery"
	"sharedworld.ai/internal/protocol"
	"sharedworld.ai/internal/sim/command"
	"sharedworld.ai/internal/sim/coordinator"
	"sharedworld.ai/internal/sim/world"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLocalAgents_JoinAndObserveEachOther(t *testing.T) {
	w := world.New(world.Config{SpawnPoints: []command.Pose{{X: 1}, {X: 2}}}, nil)
	cup, _ := w.AddObject("cup", command.Pose{X: 5})
	dir := discovery.NewDirectory[coordinator.AgentHandle]()
	c := coordinator.New(coordinator.Config{TickRateHz: 100, CallTimeout: time.Second}, w, dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	d := Direct{C: c}
	join1 := func(name string) *Local {
		l := NewLocal(name, 1, 0, nil)
		t.Cleanup(l.Close)
		if err := dir.Register(name, l); err != nil {
			t.Fatalf("register: %v", err)
		}
		welcome, err := join.Join(ctx, join.Config{WelcomeTimeout: time.Second}, d, name, l.Gate(), nil)
		if err != nil {
			t.Fatalf("join %s: %v", name, err)
		}
		if welcome.AgentName != name {
			t.Fatalf("welcome=%+v", welcome)
		}
		return l
	}
	alice := join1("alice")
	bob := join1("bob")

	var seesCup bool
	_ = bob.View(ctx, func(r *replica.Replica) { _, seesCup = r.Entity(cup) })
	if !seesCup {
		t.Fatalf("welcome state missing the cup")
	}

	ack, err := d.Sender("alice").Intent(ctx, protocol.IntentMsg{ID: "m1", Op: protocol.OpMove, Pose: &command.Pose{X: 3}})
	if err != nil || !ack.Accepted {
		t.Fatalf("move ack=%+v err=%v", ack, err)
	}
	waitFor(t, "bob to see alice move", func() bool {
		var ok bool
		_ = bob.View(ctx, func(r *replica.Replica) {
			e, found := r.Entity("alice")
			ok = found && e.Pose.X == 3
		})
		return ok
	})

	if ack, _ := d.Sender("bob").Intent(ctx, protocol.IntentMsg{ID: "p1", Op: protocol.OpPickUp, Target: cup}); !ack.Accepted {
		t.Fatalf("pick up ack=%+v", ack)
	}
	waitFor(t, "cup in bob's possessions only", func() bool {
		var bobHas, aliceSees bool
		_ = bob.View(ctx, func(r *replica.Replica) { _, bobHas = r.Own(cup) })
		_ = alice.View(ctx, func(r *replica.Replica) { _, aliceSees = r.Entity(cup) })
		return bobHas && !aliceSees
	})
}

type recordingSender struct {
	mu  sync.Mutex
	got []protocol.IntentMsg
}

func (s *recordingSender) Intent(ctx context.Context, in protocol.IntentMsg) (protocol.AckMsg, error) {
	s.mu.Lock()
	s.got = append(s.got, in)
	s.mu.Unlock()
	return protocol.NewAck(in.ID, true), nil
}

func (s *recordingSender) ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, in := range s.got {
		out = append(out, in.Op)
	}
	return out
}

func TestBot_ReportsSimulatedMotion(t *testing.T) {
	l := NewLocal("bot", 1, 0, nil)
	defer l.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Welcome(ctx, protocol.WelcomeMsg{AgentName: "bot"}); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	_ = l.View(ctx, func(r *replica.Replica) { r.SetGoal(command.Pose{X: 2}) })

	s := &recordingSender{}
	b := NewBot(BotConfig{ThinkEvery: time.Hour, Seed: 1}, l, s, nil)
	go func() { _ = b.Run(ctx) }()

	moved, err := l.Advance(ctx, 1, nil, nil)
	if err != nil || !moved {
		t.Fatalf("advance moved=%v err=%v", moved, err)
	}
	waitFor(t, "MOVE intent", func() bool {
		ops := s.ops()
		return len(ops) == 1 && ops[0] == protocol.OpMove
	})
	s.mu.Lock()
	pose := s.got[0].Pose
	s.mu.Unlock()
	if pose == nil || pose.X != 1 {
		t.Fatalf("reported pose=%+v", pose)
	}
}
