package world

import (
	"sharedworld.ai/internal/sim/command"
)

// Intent operations return false only when the request names an unknown or
// stale target; in that case nothing is recorded.

func (w *World) Move(agent string, pose command.Pose) bool {
	return w.mutate(func() (bool, []command.Command) {
		if w.agents[agent] == nil {
			return false, nil
		}
		body := w.entities[agent]
		body.Pose = pose
		return true, []command.Command{command.NewEntityUpdated(*body, command.AllAgents())}
	})
}

func (w *World) SetShape(agent string, shape command.Shape) bool {
	return w.mutate(func() (bool, []command.Command) {
		a := w.agents[agent]
		if a == nil || shape.Radius <= 0 {
			return false, nil
		}
		a.shape = shape
		sh := shape
		w.entities[agent].Shape = &sh
		return true, []command.Command{command.NewAgentShapeChanged(agent, shape, command.AllAgents())}
	})
}

func (w *World) Watch(agent, containerID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.containers[containerID]
	if c == nil || w.agents[agent] == nil {
		return false
	}
	c.watchers[agent] = true
	return true
}

func (w *World) Unwatch(agent, containerID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.containers[containerID]
	if c == nil || w.agents[agent] == nil {
		return false
	}
	delete(c.watchers, agent)
	return true
}

// OpenContainer also makes the opener a watcher of the container.
func (w *World) OpenContainer(agent, containerID string) bool {
	return w.setContainerOpen(agent, containerID, true)
}

func (w *World) CloseContainer(agent, containerID string) bool {
	return w.setContainerOpen(agent, containerID, false)
}

func (w *World) setContainerOpen(agent, containerID string, open bool) bool {
	return w.mutate(func() (bool, []command.Command) {
		c := w.containers[containerID]
		if c == nil || w.agents[agent] == nil {
			return false, nil
		}
		c.watchers[agent] = true
		if c.open == open {
			return true, nil
		}
		c.open = open
		return true, []command.Command{
			command.NewContainerStatusChanged(containerID, c.status(), command.WatchingContainer(containerID)),
		}
	})
}

// PickUp moves an object into the agent's possessions. An object already held
// by someone else is accepted optimistically without effect: at most one agent
// ever wins, but a losing racer is still told true.
func (w *World) PickUp(agent, id string) bool {
	return w.mutate(func() (bool, []command.Command) {
		a := w.agents[agent]
		e := w.entities[id]
		if a == nil || e == nil || e.Kind != command.KindObject {
			return false, nil
		}
		if e.Holder != "" {
			return true, nil
		}
		var cmds []command.Command
		if e.ContainerID != "" {
			c := w.containers[e.ContainerID]
			if c == nil || !c.open {
				return false, nil
			}
			c.removeContent(id)
			cmds = append(cmds, command.NewContainerStatusChanged(e.ContainerID, c.status(), command.WatchingContainer(e.ContainerID)))
			e.ContainerID = ""
		}
		e.Holder = agent
		a.held[id] = true
		cmds = append(cmds,
			command.NewEntityRemoved(id, command.AllAgents()),
			command.NewEntityUpdated(*e, command.SpecificAgent(agent)),
		)
		return true, cmds
	})
}

func (w *World) PutDown(agent, id string, pose command.Pose) bool {
	return w.mutate(func() (bool, []command.Command) {
		a := w.agents[agent]
		e := w.entities[id]
		if a == nil || e == nil || e.Holder != agent {
			return false, nil
		}
		e.Holder = ""
		e.Pose = pose
		delete(a.held, id)
		return true, []command.Command{
			command.NewEntityAdded(*e, command.AllAgents()),
			command.NewEntityRemoved(id, command.SpecificAgent(agent)),
		}
	})
}

// PutInto stores a carried object in an open container.
func (w *World) PutInto(agent, id, containerID string) bool {
	return w.mutate(func() (bool, []command.Command) {
		a := w.agents[agent]
		e := w.entities[id]
		c := w.containers[containerID]
		if a == nil || e == nil || c == nil || e.Holder != agent || !c.open {
			return false, nil
		}
		e.Holder = ""
		e.ContainerID = containerID
		if ce := w.entities[containerID]; ce != nil {
			e.Pose = ce.Pose
		}
		delete(a.held, id)
		c.contents = append(c.contents, id)
		return true, []command.Command{
			command.NewEntityAdded(*e, command.AllAgents()),
			command.NewContainerStatusChanged(containerID, c.status(), command.WatchingContainer(containerID)),
			command.NewEntityRemoved(id, command.SpecificAgent(agent)),
		}
	})
}

// Push displaces an object lying on the floor.
func (w *World) Push(agent, id string, dx, dy float64) bool {
	return w.mutate(func() (bool, []command.Command) {
		e := w.entities[id]
		if w.agents[agent] == nil || e == nil || e.Kind != command.KindObject || e.Holder != "" || e.ContainerID != "" {
			return false, nil
		}
		e.Pose.X += dx
		e.Pose.Y += dy
		return true, []command.Command{command.NewEntityUpdated(*e, command.AllAgents())}
	})
}

// OpenDoor starts the swing; Upkeep finishes it over the following steps.
func (w *World) OpenDoor(agent, id string) bool {
	return w.swingDoor(agent, id, true)
}

func (w *World) CloseDoor(agent, id string) bool {
	return w.swingDoor(agent, id, false)
}

func (w *World) swingDoor(agent, id string, open bool) bool {
	return w.mutate(func() (bool, []command.Command) {
		d := w.doors[id]
		if d == nil || w.agents[agent] == nil {
			return false, nil
		}
		next := d.State
		switch {
		case open && (d.State == command.DoorClosed || d.State == command.DoorClosing):
			next = command.DoorOpening
		case !open && (d.State == command.DoorOpen || d.State == command.DoorOpening):
			next = command.DoorClosing
		}
		if next == d.State {
			return true, nil
		}
		d.State = next
		return true, []command.Command{command.NewDoorStatusChanged(id, *d, command.AllAgents())}
	})
}
