package world

import (
	"sort"

	"sharedworld.ai/internal/sim/command"
)

func (w *World) addEntity(name string, kind command.EntityKind, pose command.Pose) (string, bool) {
	id := newID()
	ok := w.mutate(func() (bool, []command.Command) {
		e := &command.Entity{ID: id, Name: name, Kind: kind, Pose: pose}
		w.entities[id] = e
		switch kind {
		case command.KindContainer:
			w.containers[id] = &containerState{watchers: map[string]bool{}}
		case command.KindDoor:
			w.doors[id] = &command.DoorStatus{State: command.DoorClosed}
		}
		return true, []command.Command{command.NewEntityAdded(*e, command.AllAgents())}
	})
	return id, ok
}

func (w *World) AddObject(name string, pose command.Pose) (string, bool) {
	return w.addEntity(name, command.KindObject, pose)
}

func (w *World) AddContainer(name string, pose command.Pose) (string, bool) {
	return w.addEntity(name, command.KindContainer, pose)
}

func (w *World) AddDoor(name string, pose command.Pose) (string, bool) {
	return w.addEntity(name, command.KindDoor, pose)
}

// RemoveEntity deletes a non-agent entity. Contents of a removed container fall
// to the floor; a carried object disappears from its holder's possessions.
func (w *World) RemoveEntity(id string) bool {
	return w.mutate(func() (bool, []command.Command) {
		e := w.entities[id]
		if e == nil || e.Kind == command.KindAgent {
			return false, nil
		}
		var cmds []command.Command
		if c := w.containers[id]; c != nil {
			for _, cid := range c.contents {
				if inner := w.entities[cid]; inner != nil {
					inner.ContainerID = ""
					inner.Pose = e.Pose
					cmds = append(cmds, command.NewEntityUpdated(*inner, command.AllAgents()))
				}
			}
			delete(w.containers, id)
		}
		if e.Holder != "" {
			if a := w.agents[e.Holder]; a != nil {
				delete(a.held, id)
			}
			cmds = append(cmds, command.NewEntityRemoved(id, command.SpecificAgent(e.Holder)))
		}
		if e.ContainerID != "" {
			if c := w.containers[e.ContainerID]; c != nil {
				c.removeContent(id)
				cmds = append(cmds, command.NewContainerStatusChanged(e.ContainerID, c.status(), command.WatchingContainer(e.ContainerID)))
			}
		}
		delete(w.doors, id)
		delete(w.entities, id)
		if e.Holder == "" {
			cmds = append(cmds, command.NewEntityRemoved(id, command.AllAgents()))
		}
		return true, cmds
	})
}

// AddAgent places an agent body. Agent bodies use the agent name as entity id.
func (w *World) AddAgent(name string, pose command.Pose, shape command.Shape) bool {
	if shape.Radius <= 0 {
		shape = w.cfg.DefaultShape
	}
	return w.mutate(func() (bool, []command.Command) {
		if name == "" || w.agents[name] != nil || w.entities[name] != nil {
			return false, nil
		}
		sh := shape
		e := &command.Entity{ID: name, Name: name, Kind: command.KindAgent, Pose: pose, Shape: &sh}
		w.entities[name] = e
		w.agents[name] = &agentState{shape: shape, held: map[string]bool{}}
		return true, []command.Command{command.NewEntityAdded(*e, command.AllAgents())}
	})
}

// RemoveAgent drops everything the agent carried at its last pose and stops
// its container watches.
func (w *World) RemoveAgent(name string) bool {
	return w.mutate(func() (bool, []command.Command) {
		a := w.agents[name]
		if a == nil {
			return false, nil
		}
		body := w.entities[name]
		var cmds []command.Command

		held := make([]string, 0, len(a.held))
		for id := range a.held {
			held = append(held, id)
		}
		sort.Strings(held)
		for _, id := range held {
			e := w.entities[id]
			if e == nil {
				continue
			}
			e.Holder = ""
			if body != nil {
				e.Pose = body.Pose
			}
			cmds = append(cmds, command.NewEntityAdded(*e, command.AllAgents()))
		}
		for _, c := range w.containers {
			delete(c.watchers, name)
		}
		delete(w.agents, name)
		delete(w.entities, name)
		cmds = append(cmds, command.NewEntityRemoved(name, command.AllAgents()))
		return true, cmds
	})
}

// Reset restores the loaded layout. Agents stay but lose their possessions.
func (w *World) Reset() bool {
	w.emitMu.Lock()
	w.mu.Lock()
	bodies := make([]*command.Entity, 0, len(w.agents))
	for name, a := range w.agents {
		if e := w.entities[name]; e != nil {
			bodies = append(bodies, e)
		}
		a.held = map[string]bool{}
	}
	w.entities = map[string]*command.Entity{}
	w.containers = map[string]*containerState{}
	w.doors = map[string]*command.DoorStatus{}
	for _, e := range bodies {
		w.entities[e.ID] = e
	}
	layout := w.layout
	w.mu.Unlock()
	if w.rec != nil {
		w.rec.Record(command.NewWorldReset())
	}
	w.emitMu.Unlock()

	// Replicas keep agent bodies on WORLD_RESET and drop everything else.
	w.apply(layout)
	return true
}
