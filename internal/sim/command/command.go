package command

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind identifies the mutation a command describes.
type Kind string

const (
	EntityAdded            Kind = "ENTITY_ADDED"
	EntityRemoved          Kind = "ENTITY_REMOVED"
	EntityUpdated          Kind = "ENTITY_UPDATED"
	ContainerStatusChanged Kind = "CONTAINER_STATUS_CHANGED"
	DoorStatusChanged      Kind = "DOOR_STATUS_CHANGED"
	AgentShapeChanged      Kind = "AGENT_SHAPE_CHANGED"
	WorldReset             Kind = "WORLD_RESET"
)

func (k Kind) Valid() bool {
	switch k {
	case EntityAdded, EntityRemoved, EntityUpdated, ContainerStatusChanged, DoorStatusChanged, AgentShapeChanged, WorldReset:
		return true
	}
	return false
}

// Command is one world mutation plus the set of agents it must reach.
// Values are treated as immutable once constructed: constructors copy their
// payloads and consumers that need to modify one must Clone it first.
type Command struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Target string `json:"target"`
	Scope  Scope  `json:"scope"`

	Entity    *Entity          `json:"entity,omitempty"`
	Container *ContainerStatus `json:"container,omitempty"`
	Door      *DoorStatus      `json:"door,omitempty"`
	Shape     *Shape           `json:"shape,omitempty"`
}

func (c Command) String() string {
	return fmt.Sprintf("%s(%s)->%s", c.Kind, c.Target, c.Scope)
}

// Private reports whether the command is addressed to exactly one agent.
func (c Command) Private() bool { return c.Scope.Kind == ScopeSpecificAgent }

func (c Command) Clone() Command {
	out := c
	if c.Entity != nil {
		e := c.Entity.clone()
		out.Entity = &e
	}
	if c.Container != nil {
		s := c.Container.clone()
		out.Container = &s
	}
	if c.Door != nil {
		d := *c.Door
		out.Door = &d
	}
	if c.Shape != nil {
		s := *c.Shape
		out.Shape = &s
	}
	return out
}

func newCommand(kind Kind, target string, scope Scope) Command {
	return Command{
		ID:     uuid.New().String(),
		Kind:   kind,
		Target: target,
		Scope:  scope,
	}
}

func NewEntityAdded(e Entity, scope Scope) Command {
	c := newCommand(EntityAdded, e.ID, scope)
	cp := e.clone()
	c.Entity = &cp
	return c
}

func NewEntityUpdated(e Entity, scope Scope) Command {
	c := newCommand(EntityUpdated, e.ID, scope)
	cp := e.clone()
	c.Entity = &cp
	return c
}

func NewEntityRemoved(id string, scope Scope) Command {
	return newCommand(EntityRemoved, id, scope)
}

func NewContainerStatusChanged(containerID string, st ContainerStatus, scope Scope) Command {
	c := newCommand(ContainerStatusChanged, containerID, scope)
	cp := st.clone()
	c.Container = &cp
	return c
}

func NewDoorStatusChanged(doorID string, st DoorStatus, scope Scope) Command {
	c := newCommand(DoorStatusChanged, doorID, scope)
	c.Door = &st
	return c
}

// NewAgentShapeChanged targets the agent by name; agent bodies use the name as entity id.
func NewAgentShapeChanged(agent string, sh Shape, scope Scope) Command {
	c := newCommand(AgentShapeChanged, agent, scope)
	c.Shape = &sh
	return c
}

func NewWorldReset() Command {
	return newCommand(WorldReset, "", AllAgents())
}

// ContainsKind reports whether any command in cmds is of kind k.
func ContainsKind(cmds []Command, k Kind) bool {
	for _, c := range cmds {
		if c.Kind == k {
			return true
		}
	}
	return false
}
