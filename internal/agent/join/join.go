// Package join brings an agent into a coordinator's world: announce, wait for
// the welcome, retry with backoff until it arrives.
package join

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"sharedworld.ai/internal/protocol"
)

// Coordinator is the agent's view of a resolved coordinator.
type Coordinator interface {
	// Announce asks to be admitted at the next step boundary. It returns once
	// the request was queued, not when the agent was admitted.
	Announce(ctx context.Context, name string) error
}

type Resolver interface {
	Resolve(ctx context.Context, name string) (Coordinator, error)
}

type Config struct {
	// Coordinator is the logical name looked up through the Resolver.
	Coordinator    string
	WelcomeTimeout time.Duration
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
}

func (c *Config) normalize() {
	if c.Coordinator == "" {
		c.Coordinator = "coordinator"
	}
	if c.WelcomeTimeout <= 0 {
		c.WelcomeTimeout = 5 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = max(c.MinBackoff, 5*time.Second)
	}
}

var errWelcomeTimeout = errors.New("join: no welcome")

// Gate receives the welcome from the agent handle. Only the newest welcome is
// kept.
type Gate struct {
	ch chan protocol.WelcomeMsg
}

func NewGate() *Gate { return &Gate{ch: make(chan protocol.WelcomeMsg, 1)} }

func (g *Gate) Deliver(msg protocol.WelcomeMsg) {
	for {
		select {
		case g.ch <- msg:
			return
		default:
		}
		select {
		case <-g.ch:
		default:
		}
	}
}

// Join announces name until a welcome arrives through gate or ctx ends.
func Join(ctx context.Context, cfg Config, r Resolver, name string, gate *Gate, logger *log.Logger) (protocol.WelcomeMsg, error) {
	cfg.normalize()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	backoff := cfg.MinBackoff
	for attempt := 1; ; attempt++ {
		w, err := attemptJoin(ctx, cfg, r, name, gate)
		if err == nil {
			return w, nil
		}
		if ctx.Err() != nil {
			return protocol.WelcomeMsg{}, ctx.Err()
		}
		logger.Printf("join %s attempt %d: %v (retry in %s)", name, attempt, err, backoff)

		select {
		case <-ctx.Done():
			return protocol.WelcomeMsg{}, ctx.Err()
		case w := <-gate.ch:
			// A late welcome from an earlier attempt still counts.
			return w, nil
		case <-time.After(backoff):
		}
		if backoff < cfg.MaxBackoff {
			backoff *= 2
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}
}

func attemptJoin(ctx context.Context, cfg Config, r Resolver, name string, gate *Gate) (protocol.WelcomeMsg, error) {
	c, err := r.Resolve(ctx, cfg.Coordinator)
	if err != nil {
		return protocol.WelcomeMsg{}, err
	}
	if err := c.Announce(ctx, name); err != nil {
		return protocol.WelcomeMsg{}, err
	}
	t := time.NewTimer(cfg.WelcomeTimeout)
	defer t.Stop()
	select {
	case w := <-gate.ch:
		return w, nil
	case <-t.C:
		return protocol.WelcomeMsg{}, errWelcomeTimeout
	case <-ctx.Done():
		return protocol.WelcomeMsg{}, ctx.Err()
	}
}
