package agent

import (
	"context"
	"io"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"sharedworld.ai/internal/agent/replica"
	"sharedworld.ai/internal/protocol"
	"sharedworld.ai/internal/sim/command"
)

// IntentSender delivers intents to the coordinator and returns its answer.
type IntentSender interface {
	Intent(ctx context.Context, in protocol.IntentMsg) (protocol.AckMsg, error)
}

type BotConfig struct {
	// Area is the half-width of the square the bot wanders in.
	Area       float64
	Reach      float64
	ThinkEvery time.Duration
	Seed       int64
}

func (c *BotConfig) normalize() {
	if c.Area <= 0 {
		c.Area = 10
	}
	if c.Reach <= 0 {
		c.Reach = 1
	}
	if c.ThinkEvery <= 0 {
		c.ThinkEvery = 500 * time.Millisecond
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Bot wanders, picks up whatever it walks into and drops it again later.
// Body motion is simulated locally and reported to the coordinator as MOVE.
type Bot struct {
	cfg   BotConfig
	local *Local
	send  IntentSender
	log   *log.Logger
	rng   *rand.Rand
}

func NewBot(cfg BotConfig, local *Local, send IntentSender, logger *log.Logger) *Bot {
	cfg.normalize()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Bot{cfg: cfg, local: local, send: send, log: logger, rng: rand.New(rand.NewSource(cfg.Seed))}
}

func (b *Bot) Run(ctx context.Context) error {
	t := time.NewTicker(b.cfg.ThinkEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.local.Moved():
			b.reportPose(ctx)
		case <-t.C:
			b.think(ctx)
		}
	}
}

func (b *Bot) reportPose(ctx context.Context) {
	var pose command.Pose
	if err := b.local.View(ctx, func(r *replica.Replica) { pose = r.Pose() }); err != nil {
		return
	}
	b.intent(ctx, protocol.IntentMsg{Op: protocol.OpMove, Pose: &pose})
}

func (b *Bot) think(ctx context.Context) {
	var (
		target  command.Entity
		inReach bool
		held    []string
		pose    command.Pose
	)
	err := b.local.View(ctx, func(r *replica.Replica) {
		pose = r.Pose()
		held = r.OwnIDs()
		if e, ok := r.Nearest(command.KindObject); ok {
			target = e
			inReach = math.Hypot(e.Pose.X-pose.X, e.Pose.Y-pose.Y) <= b.cfg.Reach
		}
		if !r.HasGoal() {
			r.SetGoal(command.Pose{
				X: (b.rng.Float64()*2 - 1) * b.cfg.Area,
				Y: (b.rng.Float64()*2 - 1) * b.cfg.Area,
			})
		}
	})
	if err != nil {
		return
	}

	switch {
	case len(held) > 0 && b.rng.Intn(10) == 0:
		b.intent(ctx, protocol.IntentMsg{Op: protocol.OpPutDown, Target: held[0], Pose: &pose})
	case len(held) == 0 && inReach:
		b.intent(ctx, protocol.IntentMsg{Op: protocol.OpPickUp, Target: target.ID})
	}
}

func (b *Bot) intent(ctx context.Context, in protocol.IntentMsg) {
	in.Type = protocol.TypeIntent
	in.ProtocolVersion = protocol.Version
	in.ID = uuid.NewString()
	ack, err := b.send.Intent(ctx, in)
	if err != nil {
		b.log.Printf("%s %s: %v", b.local.Name(), in.Op, err)
		return
	}
	if !ack.Accepted {
		b.log.Printf("%s %s rejected: %s %s", b.local.Name(), in.Op, ack.Code, ack.Message)
	}
}
