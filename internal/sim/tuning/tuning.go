package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sharedworld.ai/internal/liveness"
	"sharedworld.ai/internal/protocol"
	"sharedworld.ai/internal/sim/command"
	"sharedworld.ai/internal/sim/coordinator"
	"sharedworld.ai/internal/sim/world"
)

// Tuning is read once at coordinator start and never changes afterwards.
type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz     int  `yaml:"tick_rate_hz"`
	CallTimeoutMs  int  `yaml:"call_timeout_ms"`
	GroupedUpdates bool `yaml:"grouped_updates"`

	ParallelAdvance bool `yaml:"parallel_advance"`
	MaxParallel     int  `yaml:"max_parallel"`

	ReplayWindow       int `yaml:"replay_window"`
	AgentHistoryWindow int `yaml:"agent_history_window"`
	SnapshotEverySteps int `yaml:"snapshot_every_steps"`

	// StepLogSegmentSteps cuts step log segments early; 0 cuts hourly only.
	StepLogSegmentSteps int `yaml:"steplog_segment_steps"`

	DoorSpeed   int     `yaml:"door_speed"`
	AgentRadius float64 `yaml:"agent_radius"`
	LayoutPath  string  `yaml:"layout"`

	AssignedPose map[string]world.PoseSpec `yaml:"assigned_poses,omitempty"`

	Heartbeat Heartbeat `yaml:"heartbeat"`
}

type Heartbeat struct {
	IntervalMs int `yaml:"interval_ms"`
	TimeoutMs  int `yaml:"timeout_ms"`
	MaxMisses  int `yaml:"max_misses"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    protocol.Version,
		TickRateHz:         10,
		CallTimeoutMs:      2000,
		ReplayWindow:       256,
		AgentHistoryWindow: 256,
		SnapshotEverySteps: 3000,
		DoorSpeed:          25,
		AgentRadius:        0.3,
		Heartbeat: Heartbeat{
			IntervalMs: 1000,
			TimeoutMs:  1000,
			MaxMisses:  3,
		},
	}
}

// Load reads path over Defaults. An empty path returns Defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values left by a partial file.
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.TickRateHz == 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.CallTimeoutMs == 0 {
		t.CallTimeoutMs = d.CallTimeoutMs
	}
	if t.ReplayWindow == 0 {
		t.ReplayWindow = d.ReplayWindow
	}
	if t.AgentHistoryWindow == 0 {
		t.AgentHistoryWindow = d.AgentHistoryWindow
	}
	if t.DoorSpeed == 0 {
		t.DoorSpeed = d.DoorSpeed
	}
	if t.AgentRadius == 0 {
		t.AgentRadius = d.AgentRadius
	}
	if t.Heartbeat.IntervalMs == 0 {
		t.Heartbeat.IntervalMs = d.Heartbeat.IntervalMs
	}
	if t.Heartbeat.TimeoutMs == 0 {
		t.Heartbeat.TimeoutMs = d.Heartbeat.TimeoutMs
	}
	if t.Heartbeat.MaxMisses == 0 {
		t.Heartbeat.MaxMisses = d.Heartbeat.MaxMisses
	}
}

func (t Tuning) Validate() error {
	if t.ProtocolVersion != protocol.Version {
		return fmt.Errorf("protocol_version %q not supported (want %q)", t.ProtocolVersion, protocol.Version)
	}
	switch {
	case t.TickRateHz < 1 || t.TickRateHz > 1000:
		return fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz)
	case t.CallTimeoutMs < 1:
		return fmt.Errorf("call_timeout_ms must be positive: %d", t.CallTimeoutMs)
	case t.MaxParallel < 0:
		return fmt.Errorf("max_parallel must be >= 0: %d", t.MaxParallel)
	case t.ReplayWindow < 1:
		return fmt.Errorf("replay_window must be positive: %d", t.ReplayWindow)
	case t.AgentHistoryWindow < 1:
		return fmt.Errorf("agent_history_window must be positive: %d", t.AgentHistoryWindow)
	case t.SnapshotEverySteps < 0:
		return fmt.Errorf("snapshot_every_steps must be >= 0: %d", t.SnapshotEverySteps)
	case t.StepLogSegmentSteps < 0:
		return fmt.Errorf("steplog_segment_steps must be >= 0: %d", t.StepLogSegmentSteps)
	case t.DoorSpeed < 1 || t.DoorSpeed > 100:
		return fmt.Errorf("door_speed out of range: %d", t.DoorSpeed)
	case t.AgentRadius <= 0:
		return fmt.Errorf("agent_radius must be positive: %v", t.AgentRadius)
	case t.Heartbeat.IntervalMs < 1 || t.Heartbeat.TimeoutMs < 1 || t.Heartbeat.MaxMisses < 1:
		return fmt.Errorf("heartbeat values must be positive: %+v", t.Heartbeat)
	}
	for name := range t.AssignedPose {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("assigned_poses: empty agent name")
		}
	}
	return nil
}

func (t Tuning) CallTimeout() time.Duration {
	return time.Duration(t.CallTimeoutMs) * time.Millisecond
}

func (t Tuning) Coordinator() coordinator.Config {
	return coordinator.Config{
		Grouped:         t.GroupedUpdates,
		CallTimeout:     t.CallTimeout(),
		TickRateHz:      t.TickRateHz,
		ParallelAdvance: t.ParallelAdvance,
		MaxParallel:     t.MaxParallel,
		ReplayWindow:    t.ReplayWindow,
	}
}

func (t Tuning) Liveness() liveness.Config {
	return liveness.Config{
		Interval:  time.Duration(t.Heartbeat.IntervalMs) * time.Millisecond,
		Timeout:   time.Duration(t.Heartbeat.TimeoutMs) * time.Millisecond,
		MaxMisses: t.Heartbeat.MaxMisses,
	}
}

// World builds the world config. Spawn points are added by World.Load from
// the layout.
func (t Tuning) World() world.Config {
	cfg := world.Config{
		DoorSpeed:    t.DoorSpeed,
		DefaultShape: command.Shape{Radius: t.AgentRadius},
	}
	if len(t.AssignedPose) > 0 {
		cfg.Assigned = make(map[string]command.Pose, len(t.AssignedPose))
		for name, p := range t.AssignedPose {
			cfg.Assigned[name] = p.Pose()
		}
	}
	return cfg
}
