package world

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"sharedworld.ai/internal/sim/command"
)

// Recorder receives every command produced by a successful mutation.
type Recorder interface {
	Record(cmd command.Command)
}

type Config struct {
	// DoorSpeed is the progress (0..100) a swinging door covers per step.
	DoorSpeed    int
	SpawnPoints  []command.Pose
	DefaultShape command.Shape
	// Assigned pins the starting pose of specific agents.
	Assigned map[string]command.Pose
}

type containerState struct {
	open     bool
	contents []string
	watchers map[string]bool
}

type agentState struct {
	shape command.Shape
	held  map[string]bool
}

// World is the coordinator's authoritative state. Mutations are serialized and
// their commands are handed to the Recorder in mutation order, outside the
// state lock so that scope resolution may query the world.
type World struct {
	cfg Config
	rec Recorder

	emitMu sync.Mutex // orders mutate+record pairs
	mu     sync.Mutex

	entities   map[string]*command.Entity
	containers map[string]*containerState
	doors      map[string]*command.DoorStatus
	agents     map[string]*agentState

	layout    Layout
	nextSpawn int
}

func New(cfg Config, rec Recorder) *World {
	if cfg.DoorSpeed <= 0 {
		cfg.DoorSpeed = 25
	}
	if cfg.DefaultShape.Radius <= 0 {
		cfg.DefaultShape.Radius = 0.3
	}
	return &World{
		cfg:        cfg,
		rec:        rec,
		entities:   map[string]*command.Entity{},
		containers: map[string]*containerState{},
		doors:      map[string]*command.DoorStatus{},
		agents:     map[string]*agentState{},
	}
}

// SetRecorder is used when the recorder is built after the world.
func (w *World) SetRecorder(rec Recorder) { w.rec = rec }

// mutate runs fn under the state lock and records the commands it returns.
func (w *World) mutate(fn func() (bool, []command.Command)) bool {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()

	w.mu.Lock()
	ok, cmds := fn()
	w.mu.Unlock()

	if w.rec != nil {
		for _, c := range cmds {
			w.rec.Record(c)
		}
	}
	return ok
}

func newID() string { return uuid.New().String() }

// Snapshot copies the shared world (carried objects are private and excluded).
func (w *World) Snapshot() command.WorldState {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := command.WorldState{
		Entities:   make([]command.Entity, 0, len(w.entities)),
		Containers: make(map[string]command.ContainerStatus, len(w.containers)),
		Doors:      make(map[string]command.DoorStatus, len(w.doors)),
	}
	for _, e := range w.entities {
		if e.Holder != "" {
			continue
		}
		st.Entities = append(st.Entities, copyEntity(e))
	}
	sort.Slice(st.Entities, func(i, j int) bool { return st.Entities[i].ID < st.Entities[j].ID })
	for id, c := range w.containers {
		st.Containers[id] = c.status()
	}
	for id, d := range w.doors {
		st.Doors[id] = *d
	}
	return st
}

// Possessions lists the entities carried by agent.
func (w *World) Possessions(agent string) []command.Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	a := w.agents[agent]
	if a == nil {
		return nil
	}
	out := make([]command.Entity, 0, len(a.held))
	for id := range a.held {
		if e := w.entities[id]; e != nil {
			out = append(out, copyEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) Entity(id string) (command.Entity, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.entities[id]
	if e == nil {
		return command.Entity{}, false
	}
	return copyEntity(e), true
}

func (w *World) HasAgent(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.agents[name] != nil
}

// Watchers lists agents watching containerID, sorted.
func (w *World) Watchers(containerID string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.containers[containerID]
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.watchers))
	for name := range c.watchers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (w *World) Counts() (entities, agents int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entities), len(w.agents)
}

// SpawnPose hands out configured spawn points round-robin.
func (w *World) SpawnPose() command.Pose {
	return w.SpawnPoseFor("")
}

// SpawnPoseFor returns the pose assigned to agent, or the next spawn point.
func (w *World) SpawnPoseFor(agent string) command.Pose {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.cfg.Assigned[agent]; ok && agent != "" {
		return p
	}
	if len(w.cfg.SpawnPoints) == 0 {
		return command.Pose{}
	}
	p := w.cfg.SpawnPoints[w.nextSpawn%len(w.cfg.SpawnPoints)]
	w.nextSpawn++
	return p
}

func (w *World) DefaultShape() command.Shape { return w.cfg.DefaultShape }

func (c *containerState) status() command.ContainerStatus {
	return command.ContainerStatus{
		Open:     c.open,
		Contents: append([]string(nil), c.contents...),
	}
}

func (c *containerState) removeContent(id string) {
	for i, v := range c.contents {
		if v == id {
			c.contents = append(c.contents[:i], c.contents[i+1:]...)
			return
		}
	}
}

func copyEntity(e *command.Entity) command.Entity {
	out := *e
	if e.Shape != nil {
		s := *e.Shape
		out.Shape = &s
	}
	return out
}
