package join

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sharedworld.ai/internal/protocol"
)

type scriptedCoordinator struct {
	mu        sync.Mutex
	announces int
	failFirst int
	welcomeAt int
	gate      *Gate
}

func (c *scriptedCoordinator) Announce(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.announces++
	if c.announces <= c.failFirst {
		return errors.New("connection refused")
	}
	if c.announces >= c.welcomeAt {
		go c.gate.Deliver(protocol.WelcomeMsg{AgentName: name, Step: uint64(c.announces)})
	}
	return nil
}

type resolverFunc func(ctx context.Context, name string) (Coordinator, error)

func (f resolverFunc) Resolve(ctx context.Context, name string) (Coordinator, error) { return f(ctx, name) }

func fastConfig() Config {
	return Config{WelcomeTimeout: 30 * time.Millisecond, MinBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func TestJoin_RetriesUntilWelcomed(t *testing.T) {
	gate := NewGate()
	c := &scriptedCoordinator{failFirst: 2, welcomeAt: 4, gate: gate}
	var lookups int
	r := resolverFunc(func(ctx context.Context, name string) (Coordinator, error) {
		lookups++
		if lookups == 1 {
			return nil, errors.New("not found")
		}
		return c, nil
	})

	w, err := Join(context.Background(), fastConfig(), r, "bot", gate, nil)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if w.AgentName != "bot" || w.Step != 4 {
		t.Fatalf("welcome=%+v", w)
	}
}

func TestJoin_StopsOnContextCancel(t *testing.T) {
	gate := NewGate()
	r := resolverFunc(func(ctx context.Context, name string) (Coordinator, error) {
		return nil, errors.New("down")
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := Join(ctx, fastConfig(), r, "bot", gate, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}

func TestGate_KeepsNewest(t *testing.T) {
	g := NewGate()
	g.Deliver(protocol.WelcomeMsg{Step: 1})
	g.Deliver(protocol.WelcomeMsg{Step: 2})
	if w := <-g.ch; w.Step != 2 {
		t.Fatalf("step=%d", w.Step)
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.normalize()
	if c.MinBackoff != 200*time.Millisecond || c.MaxBackoff != 5*time.Second || c.Coordinator != "coordinator" {
		t.Fatalf("defaults=%+v", c)
	}
}

func TestConfig_MaxBackoffNeverBelowMin(t *testing.T) {
	c := Config{MinBackoff: 8 * time.Second}
	c.normalize()
	if c.MaxBackoff != 8*time.Second {
		t.Fatalf("MaxBackoff=%s want 8s", c.MaxBackoff)
	}
	c = Config{MinBackoff: time.Second, MaxBackoff: 3 * time.Second}
	c.normalize()
	if c.MaxBackoff != 3*time.Second {
		t.Fatalf("explicit MaxBackoff changed to %s", c.MaxBackoff)
	}
}
