package command

import "fmt"

type ScopeKind string

const (
	ScopeAllAgents         ScopeKind = "ALL_AGENTS"
	ScopeWatchingContainer ScopeKind = "WATCHING_CONTAINER"
	ScopeSpecificAgent     ScopeKind = "SPECIFIC_AGENT"
)

// Scope is the applicability of a command. It is fixed by the operation that
// produced the mutation; dispatch only resolves it to concrete agents.
type Scope struct {
	Kind        ScopeKind `json:"kind"`
	ContainerID string    `json:"container_id,omitempty"`
	Agent       string    `json:"agent,omitempty"`
}

func AllAgents() Scope { return Scope{Kind: ScopeAllAgents} }

func WatchingContainer(containerID string) Scope {
	return Scope{Kind: ScopeWatchingContainer, ContainerID: containerID}
}

func SpecificAgent(name string) Scope {
	return Scope{Kind: ScopeSpecificAgent, Agent: name}
}

func (s Scope) String() string {
	switch s.Kind {
	case ScopeWatchingContainer:
		return fmt.Sprintf("watching(%s)", s.ContainerID)
	case ScopeSpecificAgent:
		return fmt.Sprintf("agent(%s)", s.Agent)
	default:
		return "all"
	}
}

func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeAllAgents:
		return nil
	case ScopeWatchingContainer:
		if s.ContainerID == "" {
			return fmt.Errorf("scope %s: missing container id", s.Kind)
		}
		return nil
	case ScopeSpecificAgent:
		if s.Agent == "" {
			return fmt.Errorf("scope %s: missing agent", s.Kind)
		}
		return nil
	}
	return fmt.Errorf("unknown scope kind %q", s.Kind)
}
