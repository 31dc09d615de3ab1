// Package replica is an agent's local mirror of the shared world plus a
// minimal body simulation.
package replica

import (
	"math"
	"sort"

	"sharedworld.ai/internal/sim/command"
)

// DefaultSpeed is the distance covered per step when moving toward a goal.
const DefaultSpeed = 0.5

// Replica mirrors what the coordinator told this agent. It is not safe for
// concurrent use; the adapter goroutine owns it.
type Replica struct {
	name  string
	speed float64

	entities   map[string]command.Entity
	containers map[string]command.ContainerStatus
	doors      map[string]command.DoorStatus
	own        map[string]command.Entity

	pose  command.Pose
	shape command.Shape
	goal  *command.Pose

	step    uint64
	resets  int
	applied int
}

func New(name string, speed float64) *Replica {
	if speed <= 0 {
		speed = DefaultSpeed
	}
	r := &Replica{name: name, speed: speed}
	r.clear()
	return r
}

func (r *Replica) clear() {
	r.entities = map[string]command.Entity{}
	r.containers = map[string]command.ContainerStatus{}
	r.doors = map[string]command.DoorStatus{}
	r.own = map[string]command.Entity{}
}

// Welcome seeds the replica from the coordinator's starting state.
func (r *Replica) Welcome(state command.WorldState, start command.Pose, possessions []command.Entity) {
	r.clear()
	for _, e := range state.Entities {
		r.entities[e.ID] = e
	}
	for id, c := range state.Containers {
		r.containers[id] = c
	}
	for id, d := range state.Doors {
		r.doors[id] = d
	}
	for _, e := range possessions {
		r.own[e.ID] = e
	}
	r.pose = start
	r.goal = nil
}

func (r *Replica) ApplyCommands(cmds []command.Command) {
	for _, c := range cmds {
		r.apply(c)
		r.applied++
	}
}

func (r *Replica) apply(c command.Command) {
	switch c.Kind {
	case command.EntityAdded, command.EntityUpdated:
		if c.Entity == nil {
			return
		}
		e := *c.Entity
		if c.Private() {
			r.own[e.ID] = e
			return
		}
		delete(r.own, e.ID)
		r.entities[e.ID] = e
		if e.ID == r.name && c.Kind == command.EntityAdded {
			r.pose = e.Pose
		}
	case command.EntityRemoved:
		if c.Private() {
			delete(r.own, c.Target)
			return
		}
		delete(r.entities, c.Target)
	case command.ContainerStatusChanged:
		if c.Container != nil {
			r.containers[c.Target] = *c.Container
		}
	case command.DoorStatusChanged:
		if c.Door != nil {
			r.doors[c.Target] = *c.Door
		}
	case command.AgentShapeChanged:
		if c.Shape == nil {
			return
		}
		if c.Target == r.name {
			r.shape = *c.Shape
		}
		if e, ok := r.entities[c.Target]; ok {
			s := *c.Shape
			e.Shape = &s
			r.entities[c.Target] = e
		}
	case command.WorldReset:
		r.resets++
		for id, e := range r.entities {
			if e.Kind != command.KindAgent {
				delete(r.entities, id)
			}
		}
		r.containers = map[string]command.ContainerStatus{}
		r.doors = map[string]command.DoorStatus{}
		r.own = map[string]command.Entity{}
		r.goal = nil
	}
}

// StepSimulation moves the body toward the goal when motion is allowed.
func (r *Replica) StepSimulation(step uint64, allowMotion bool) bool {
	r.step = step
	if !allowMotion || r.goal == nil {
		return false
	}
	dx, dy := r.goal.X-r.pose.X, r.goal.Y-r.pose.Y
	dist := math.Hypot(dx, dy)
	if dist == 0 {
		r.goal = nil
		return false
	}
	if dist <= r.speed {
		r.pose.X, r.pose.Y = r.goal.X, r.goal.Y
		r.goal = nil
	} else {
		r.pose.X += dx / dist * r.speed
		r.pose.Y += dy / dist * r.speed
	}
	r.pose.Heading = math.Atan2(dy, dx)
	return true
}

func (r *Replica) SetGoal(p command.Pose) { r.goal = &p }
func (r *Replica) ClearGoal() { r.goal = nil }
func (r *Replica) HasGoal() bool { return r.goal != nil }

func (r *Replica) Name() string { return r.name }
func (r *Replica) Pose() command.Pose { return r.pose }
func (r *Replica) Shape() command.Shape { return r.shape }
func (r *Replica) Step() uint64 { return r.step }
func (r *Replica) Resets() int { return r.resets }
func (r *Replica) Applied() int { return r.applied }

func (r *Replica) Entity(id string) (command.Entity, bool) {
	e, ok := r.entities[id]
	return e, ok
}

func (r *Replica) Own(id string) (command.Entity, bool) {
	e, ok := r.own[id]
	return e, ok
}

func (r *Replica) Container(id string) (command.ContainerStatus, bool) {
	c, ok := r.containers[id]
	return c, ok
}

func (r *Replica) Door(id string) (command.DoorStatus, bool) {
	d, ok := r.doors[id]
	return d, ok
}

// EntityIDs lists the mirrored shared entities, sorted.
func (r *Replica) EntityIDs() []string {
	out := make([]string, 0, len(r.entities))
	for id := range r.entities {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OwnIDs lists carried entities, sorted.
func (r *Replica) OwnIDs() []string {
	out := make([]string, 0, len(r.own))
	for id := range r.own {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Nearest returns the closest loose object, if any.
func (r *Replica) Nearest(kind command.EntityKind) (command.Entity, bool) {
	var best command.Entity
	bestD := math.Inf(1)
	for _, e := range r.entities {
		if e.Kind != kind || e.ContainerID != "" {
			continue
		}
		d := math.Hypot(e.Pose.X-r.pose.X, e.Pose.Y-r.pose.Y)
		if d < bestD || (d == bestD && e.ID < best.ID) {
			best, bestD = e, d
		}
	}
	return best, !math.IsInf(bestD, 1)
}
