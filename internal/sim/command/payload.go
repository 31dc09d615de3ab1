package command

type EntityKind string

const (
	KindObject    EntityKind = "OBJECT"
	KindContainer EntityKind = "CONTAINER"
	KindDoor      EntityKind = "DOOR"
	KindAgent     EntityKind = "AGENT"
)

type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// Entity is the shared description of anything placed in the world.
// Holder is the agent carrying the entity (empty when it lies on the floor);
// ContainerID is set while the entity sits inside a container.
type Entity struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Kind        EntityKind `json:"kind"`
	Pose        Pose       `json:"pose"`
	Holder      string     `json:"holder,omitempty"`
	ContainerID string     `json:"container_id,omitempty"`
	Shape       *Shape     `json:"shape,omitempty"`
}

func (e Entity) clone() Entity {
	if e.Shape != nil {
		s := *e.Shape
		e.Shape = &s
	}
	return e
}

type ContainerStatus struct {
	Open     bool     `json:"open"`
	Contents []string `json:"contents,omitempty"`
}

func (s ContainerStatus) clone() ContainerStatus {
	if s.Contents != nil {
		s.Contents = append([]string(nil), s.Contents...)
	}
	return s
}

type DoorState string

const (
	DoorClosed  DoorState = "CLOSED"
	DoorOpening DoorState = "OPENING"
	DoorOpen    DoorState = "OPEN"
	DoorClosing DoorState = "CLOSING"
)

// DoorStatus carries the animation state; Progress runs 0 (closed) .. 100 (open).
type DoorStatus struct {
	State    DoorState `json:"state"`
	Progress int       `json:"progress"`
}

type Shape struct {
	Radius float64 `json:"radius"`
	Width  float64 `json:"width,omitempty"`
	Length float64 `json:"length,omitempty"`
}

// WorldState is a full copy of the shared world, used for welcomes and for
// observers that fell out of the replay window.
type WorldState struct {
	Entities   []Entity                   `json:"entities"`
	Containers map[string]ContainerStatus `json:"containers"`
	Doors      map[string]DoorStatus      `json:"doors"`
}
