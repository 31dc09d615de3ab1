package ledger

import (
	"slices"
	"sort"
	"sync"

	"sharedworld.ai/internal/sim/command"
)

// Snapshot is an immutable view of one drained step.
type Snapshot struct {
	General []command.Command
	Private map[string][]command.Command
}

func (s Snapshot) PrivateFor(agent string) []command.Command {
	if s.Private == nil {
		return nil
	}
	return s.Private[agent]
}

// Containers lists the containers whose watchers are addressed by the general
// bucket, sorted and deduplicated.
func (s Snapshot) Containers() []string {
	var out []string
	for _, c := range s.General {
		if c.Scope.Kind == command.ScopeWatchingContainer {
			out = append(out, c.Scope.ContainerID)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

// GeneralFor filters the general bucket for agent: all-agents commands are
// kept, container-scoped ones only when agent is among that container's
// watchers. watchers maps container id to watcher names.
func (s Snapshot) GeneralFor(agent string, watchers map[string][]string) []command.Command {
	scoped := false
	for _, c := range s.General {
		if c.Scope.Kind == command.ScopeWatchingContainer {
			scoped = true
			break
		}
	}
	if !scoped {
		return s.General
	}
	out := make([]command.Command, 0, len(s.General))
	for _, c := range s.General {
		if c.Scope.Kind == command.ScopeWatchingContainer && !slices.Contains(watchers[c.Scope.ContainerID], agent) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s Snapshot) Len() int {
	n := len(s.General)
	for _, cmds := range s.Private {
		n += len(cmds)
	}
	return n
}

func (s Snapshot) Empty() bool { return s.Len() == 0 }

// Recipients lists agents with a private bucket, sorted.
func (s Snapshot) Recipients() []string {
	out := make([]string, 0, len(s.Private))
	for name := range s.Private {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Ledger accumulates the commands recorded during the current step.
// Record may be called from any goroutine; Drain is called once per step by the tick loop.
type Ledger struct {
	mu      sync.Mutex
	general []command.Command
	private map[string][]command.Command
}

func New() *Ledger {
	return &Ledger{private: map[string][]command.Command{}}
}

// Record files cmd into exactly one bucket: the addressed agent's private list for
// SPECIFIC_AGENT scope, the general list otherwise.
func (l *Ledger) Record(cmd command.Command) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cmd.Private() {
		l.private[cmd.Scope.Agent] = append(l.private[cmd.Scope.Agent], cmd)
		return
	}
	l.general = append(l.general, cmd)
}

func (l *Ledger) Drain() Snapshot {
	l.mu.Lock()
	general := l.general
	private := l.private
	l.general = nil
	l.private = map[string][]command.Command{}
	l.mu.Unlock()

	if len(private) == 0 {
		private = nil
	}
	return Snapshot{General: general, Private: private}
}

// Purge drops anything still addressed to a departed agent.
func (l *Ledger) Purge(agent string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.private[agent])
	delete(l.private, agent)
	return n
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.general)
	for _, cmds := range l.private {
		n += len(cmds)
	}
	return n
}
