package world

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"sharedworld.ai/internal/sim/command"
)

// Layout is the initial world content loaded at coordinator start.
type Layout struct {
	Objects     []PlacedSpec  `yaml:"objects"`
	Containers  []PlacedSpec  `yaml:"containers"`
	Doors       []PlacedSpec  `yaml:"doors"`
	SpawnPoints []PoseSpec    `yaml:"spawn_points"`
	Contents    []ContentSpec `yaml:"contents,omitempty"`
}

type PoseSpec struct {
	X       float64 `yaml:"x"`
	Y       float64 `yaml:"y"`
	Heading float64 `yaml:"heading"`
}

func (p PoseSpec) Pose() command.Pose { return command.Pose{X: p.X, Y: p.Y, Heading: p.Heading} }

type PlacedSpec struct {
	Name string   `yaml:"name"`
	Pose PoseSpec `yaml:"pose"`
}

// ContentSpec puts the named object inside the named container.
type ContentSpec struct {
	Object    string `yaml:"object"`
	Container string `yaml:"container"`
}

func LoadLayout(path string) (Layout, error) {
	var l Layout
	if strings.TrimSpace(path) == "" {
		return l, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return l, err
	}
	if err := yaml.Unmarshal(b, &l); err != nil {
		return l, fmt.Errorf("layout.yaml: %w", err)
	}
	if err := l.Validate(); err != nil {
		return l, fmt.Errorf("layout.yaml: %w", err)
	}
	return l, nil
}

func (l Layout) Validate() error {
	seen := map[string]bool{}
	for _, group := range [][]PlacedSpec{l.Objects, l.Containers, l.Doors} {
		for _, p := range group {
			name := strings.TrimSpace(p.Name)
			if name == "" {
				return fmt.Errorf("entity with empty name")
			}
			if seen[name] {
				return fmt.Errorf("duplicate entity name %q", name)
			}
			seen[name] = true
		}
	}
	containers := map[string]bool{}
	for _, c := range l.Containers {
		containers[c.Name] = true
	}
	objects := map[string]bool{}
	for _, o := range l.Objects {
		objects[o.Name] = true
	}
	for _, c := range l.Contents {
		if !objects[c.Object] || !containers[c.Container] {
			return fmt.Errorf("contents: unknown object/container %q/%q", c.Object, c.Container)
		}
	}
	return nil
}

// Load places the layout and remembers it for Reset. Spawn points from the
// layout are appended to the configured ones.
func (w *World) Load(l Layout) {
	w.mu.Lock()
	w.layout = l
	for _, sp := range l.SpawnPoints {
		w.cfg.SpawnPoints = append(w.cfg.SpawnPoints, sp.Pose())
	}
	w.mu.Unlock()
	w.apply(l)
}

func (w *World) apply(l Layout) {
	byName := map[string]string{}
	for _, o := range l.Objects {
		if id, ok := w.AddObject(o.Name, o.Pose.Pose()); ok {
			byName[o.Name] = id
		}
	}
	for _, c := range l.Containers {
		if id, ok := w.AddContainer(c.Name, c.Pose.Pose()); ok {
			byName[c.Name] = id
		}
	}
	for _, d := range l.Doors {
		w.AddDoor(d.Name, d.Pose.Pose())
	}
	for _, c := range l.Contents {
		w.place(byName[c.Object], byName[c.Container])
	}
}

// place stores a floor object in a container regardless of its open state.
func (w *World) place(id, containerID string) bool {
	return w.mutate(func() (bool, []command.Command) {
		e := w.entities[id]
		c := w.containers[containerID]
		if e == nil || c == nil || e.Holder != "" {
			return false, nil
		}
		e.ContainerID = containerID
		if ce := w.entities[containerID]; ce != nil {
			e.Pose = ce.Pose
		}
		c.contents = append(c.contents, id)
		return true, []command.Command{
			command.NewEntityUpdated(*e, command.AllAgents()),
			command.NewContainerStatusChanged(containerID, c.status(), command.WatchingContainer(containerID)),
		}
	})
}

// FindByName returns the id of the first entity with the given name.
func (w *World) FindByName(name string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, e := range w.entities {
		if e.Name == name {
			return id, true
		}
	}
	return "", false
}
