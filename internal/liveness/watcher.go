// Package liveness detects agents that stopped answering.
package liveness

import (
	"context"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"sharedworld.ai/internal/sim/logic/callguard"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Interval  time.Duration
	Timeout   time.Duration
	MaxMisses int
}

func (c *Config) normalize() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.MaxMisses <= 0 {
		c.MaxMisses = 3
	}
}

type entry struct {
	p      Pinger
	misses int
}

// Watcher pings every watched agent each Interval. After MaxMisses consecutive
// failures OnDead is called once for that agent and it is no longer watched.
type Watcher struct {
	cfg    Config
	onDead func(name string)
	log    *log.Logger

	mu      sync.Mutex
	watched map[string]*entry
}

func NewWatcher(cfg Config, onDead func(name string), logger *log.Logger) *Watcher {
	cfg.normalize()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Watcher{cfg: cfg, onDead: onDead, log: logger, watched: map[string]*entry{}}
}

func (w *Watcher) Watch(name string, p Pinger) {
	w.mu.Lock()
	w.watched[name] = &entry{p: p}
	w.mu.Unlock()
}

func (w *Watcher) Unwatch(name string) {
	w.mu.Lock()
	delete(w.watched, name)
	w.mu.Unlock()
}

func (w *Watcher) Watching() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watched))
	for n := range w.watched {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.CheckOnce(ctx)
		}
	}
}

// CheckOnce pings every watched agent concurrently and returns the agents
// declared dead by this round.
func (w *Watcher) CheckOnce(ctx context.Context) []string {
	w.mu.Lock()
	round := make(map[string]*entry, len(w.watched))
	for n, e := range w.watched {
		round[n] = e
	}
	w.mu.Unlock()

	type result struct {
		name string
		e    *entry
		err  error
	}
	results := make(chan result, len(round))
	for n, e := range round {
		go func(n string, e *entry) {
			err := callguard.Do(ctx, w.cfg.Timeout, e.p.Ping)
			results <- result{name: n, e: e, err: err}
		}(n, e)
	}

	collected := make([]result, 0, len(round))
	for range round {
		collected = append(collected, <-results)
	}

	var dead []string
	w.mu.Lock()
	for _, r := range collected {
		if w.watched[r.name] != r.e {
			// Unwatched or replaced while the ping was in flight.
			continue
		}
		if r.err == nil {
			r.e.misses = 0
			continue
		}
		r.e.misses++
		w.log.Printf("ping %s: %v (miss %d/%d)", r.name, r.err, r.e.misses, w.cfg.MaxMisses)
		if r.e.misses >= w.cfg.MaxMisses {
			delete(w.watched, r.name)
			dead = append(dead, r.name)
		}
	}
	w.mu.Unlock()

	sort.Strings(dead)
	for _, n := range dead {
		if w.onDead != nil {
			w.onDead(n)
		}
	}
	return dead
}
