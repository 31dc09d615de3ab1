package liveness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePinger struct {
	mu   sync.Mutex
	fail bool
	hang bool
}

func (p *fakePinger) set(fail bool) {
	p.mu.Lock()
	p.fail = fail
	p.mu.Unlock()
}

func (p *fakePinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	fail, hang := p.fail, p.hang
	p.mu.Unlock()
	if hang {
		select {}
	}
	if fail {
		return errors.New("unreachable")
	}
	return nil
}

func TestWatcher_DeclaresDeadAfterMaxMisses(t *testing.T) {
	var mu sync.Mutex
	var deadCalls []string
	w := NewWatcher(Config{Timeout: 50 * time.Millisecond, MaxMisses: 2}, func(name string) {
		mu.Lock()
		deadCalls = append(deadCalls, name)
		mu.Unlock()
	}, nil)

	ok := &fakePinger{}
	bad := &fakePinger{fail: true}
	w.Watch("alice", ok)
	w.Watch("bob", bad)

	ctx := context.Background()
	if dead := w.CheckOnce(ctx); len(dead) != 0 {
		t.Fatalf("first miss should not be fatal: %v", dead)
	}
	dead := w.CheckOnce(ctx)
	if len(dead) != 1 || dead[0] != "bob" {
		t.Fatalf("dead=%v want [bob]", dead)
	}
	if got := w.CheckOnce(ctx); len(got) != 0 {
		t.Fatalf("OnDead must fire once, got %v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(deadCalls) != 1 || deadCalls[0] != "bob" {
		t.Fatalf("onDead calls=%v", deadCalls)
	}
	if got := w.Watching(); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("watching=%v", got)
	}
}

func TestWatcher_SuccessResetsMisses(t *testing.T) {
	w := NewWatcher(Config{Timeout: 50 * time.Millisecond, MaxMisses: 2}, nil, nil)
	p := &fakePinger{fail: true}
	w.Watch("alice", p)

	ctx := context.Background()
	w.CheckOnce(ctx)
	p.set(false)
	w.CheckOnce(ctx)
	p.set(true)
	if dead := w.CheckOnce(ctx); len(dead) != 0 {
		t.Fatalf("misses should have been reset: %v", dead)
	}
}

func TestWatcher_HangingPingCountsAsMiss(t *testing.T) {
	w := NewWatcher(Config{Timeout: 20 * time.Millisecond, MaxMisses: 1}, nil, nil)
	w.Watch("slow", &fakePinger{hang: true})

	start := time.Now()
	dead := w.CheckOnce(context.Background())
	if len(dead) != 1 {
		t.Fatalf("dead=%v", dead)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("check took %s", time.Since(start))
	}
}

func TestWatcher_UnwatchStopsPinging(t *testing.T) {
	w := NewWatcher(Config{Timeout: 20 * time.Millisecond, MaxMisses: 1}, nil, nil)
	w.Watch("bob", &fakePinger{fail: true})
	w.Unwatch("bob")
	if dead := w.CheckOnce(context.Background()); len(dead) != 0 {
		t.Fatalf("dead=%v", dead)
	}
}
