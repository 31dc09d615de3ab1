package observerproto

import "sharedworld.ai/internal/sim/command"

// Version is the observer protocol version (separate from the agent WS protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// IncludeCommands adds the step's broadcast commands to every STEP message.
	IncludeCommands bool `json:"include_commands,omitempty"`
}

// HTTP response for GET /v1/history.
type HistoryResponse struct {
	ProtocolVersion string            `json:"protocol_version"`
	Since           uint64            `json:"since"`
	Step            uint64            `json:"step"`
	Commands        []command.Command `json:"commands"`
}

// HTTP response for GET /v1/snapshot. Steps is the number of committed steps.
type SnapshotResponse struct {
	ProtocolVersion string             `json:"protocol_version"`
	Steps           uint64             `json:"steps"`
	Agents          []string           `json:"agents"`
	State           command.WorldState `json:"state"`
}

// Server -> Client. Sent after every committed step.
type StepMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Step            uint64 `json:"step"`

	Admitted []string `json:"admitted,omitempty"`
	Departed []string `json:"departed,omitempty"`
	Advanced []string `json:"advanced,omitempty"`
	Failed   []string `json:"failed,omitempty"`
	Moved    []string `json:"moved,omitempty"`

	DurationMS float64           `json:"duration_ms"`
	Commands   []command.Command `json:"commands,omitempty"`
}
