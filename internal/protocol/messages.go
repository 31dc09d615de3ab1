package protocol

import "sharedworld.ai/internal/sim/command"

// HELLO (agent -> coordinator): announces the agent. The ACK only means the
// agent was queued for admission; WELCOME follows at a step boundary.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	AgentName       string `json:"agent_name"`
}

// WELCOME (coordinator -> agent): sent once, when the agent is admitted at a
// step boundary. Acknowledged with ACK.
type WelcomeMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	ID              string             `json:"id"`
	AgentName       string             `json:"agent_name"`
	Step            uint64             `json:"step"`
	Start           command.Pose       `json:"start"`
	State           command.WorldState `json:"state"`
	Possessions     []command.Entity   `json:"possessions,omitempty"`
	Params          WorldParams        `json:"params"`
}

type WorldParams struct {
	TickRateHz    int  `json:"tick_rate_hz"`
	Grouped       bool `json:"grouped"`
	CallTimeoutMS int  `json:"call_timeout_ms"`
}

// ADVANCE (coordinator -> agent): run one step. The agent answers with ACK
// once the step has been applied locally.
type AdvanceMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ID              string            `json:"id"`
	Step            uint64            `json:"step"`
	General         []command.Command `json:"general,omitempty"`
	Private         []command.Command `json:"private,omitempty"`
}

// APPLY (coordinator -> agent): immediate push. Not acknowledged.
type ApplyMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ID              string            `json:"id"`
	Commands        []command.Command `json:"commands"`
}

// PING (coordinator -> agent): liveness probe.
type PingMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
}

// Intent operations.
const (
	OpMove           = "MOVE"
	OpSetShape       = "SET_SHAPE"
	OpWatch          = "WATCH"
	OpUnwatch        = "UNWATCH"
	OpOpenContainer  = "OPEN_CONTAINER"
	OpCloseContainer = "CLOSE_CONTAINER"
	OpPickUp         = "PICK_UP"
	OpPutDown        = "PUT_DOWN"
	OpPutInto        = "PUT_INTO"
	OpPush           = "PUSH"
	OpOpenDoor       = "OPEN_DOOR"
	OpCloseDoor      = "CLOSE_DOOR"
)

// INTENT (agent -> coordinator): request a world mutation. Answered with ACK;
// Accepted=false means the target was unknown or stale.
type IntentMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ID              string         `json:"id"`
	Op              string         `json:"op"`
	Target          string         `json:"target,omitempty"`
	Container       string         `json:"container,omitempty"`
	Pose            *command.Pose  `json:"pose,omitempty"`
	DX              float64        `json:"dx,omitempty"`
	DY              float64        `json:"dy,omitempty"`
	Shape           *command.Shape `json:"shape,omitempty"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Step            uint64 `json:"step,omitempty"`
	Moved           bool   `json:"moved,omitempty"`
}

func NewAck(ackFor string, accepted bool) AckMsg {
	return AckMsg{Type: TypeAck, ProtocolVersion: Version, AckFor: ackFor, Accepted: accepted}
}

func NewReject(ackFor, code, message string) AckMsg {
	return AckMsg{Type: TypeAck, ProtocolVersion: Version, AckFor: ackFor, Code: code, Message: message}
}
