package ledger

import (
	"sync"
	"testing"

	"sharedworld.ai/internal/sim/command"
)

func TestLedger_RecordFilesEachCommandInOneBucket(t *testing.T) {
	l := New()
	all := command.NewEntityRemoved("obj1", command.AllAgents())
	watch := command.NewContainerStatusChanged("box", command.ContainerStatus{Open: true}, command.WatchingContainer("box"))
	priv := command.NewEntityUpdated(command.Entity{ID: "obj2", Holder: "alice"}, command.SpecificAgent("alice"))

	l.Record(all)
	l.Record(watch)
	l.Record(priv)

	snap := l.Drain()
	if len(snap.General) != 2 {
		t.Fatalf("general: got %d want 2", len(snap.General))
	}
	if got := snap.PrivateFor("alice"); len(got) != 1 || got[0].ID != priv.ID {
		t.Fatalf("alice private: %v", got)
	}
	if got := snap.PrivateFor("bob"); len(got) != 0 {
		t.Fatalf("bob must not see alice's command: %v", got)
	}
	for _, c := range snap.General {
		if c.ID == priv.ID {
			t.Fatalf("private command leaked into general bucket")
		}
	}
	if snap.Len() != 3 {
		t.Fatalf("snapshot len: %d", snap.Len())
	}
}

func TestLedger_DrainEmptiesAtomically(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Record(command.NewEntityRemoved("x", command.AllAgents()))
			}
		}()
	}
	wg.Wait()

	snap := l.Drain()
	if len(snap.General) != 800 {
		t.Fatalf("general: got %d want 800", len(snap.General))
	}
	if l.Len() != 0 {
		t.Fatalf("ledger not empty after drain: %d", l.Len())
	}
	if !l.Drain().Empty() {
		t.Fatalf("second drain should be empty")
	}
}

func TestLedger_PurgeDropsDepartedAgent(t *testing.T) {
	l := New()
	l.Record(command.NewEntityUpdated(command.Entity{ID: "o"}, command.SpecificAgent("gone")))
	l.Record(command.NewEntityUpdated(command.Entity{ID: "o"}, command.SpecificAgent("stay")))
	if n := l.Purge("gone"); n != 1 {
		t.Fatalf("purged %d want 1", n)
	}
	snap := l.Drain()
	if got := snap.Recipients(); len(got) != 1 || got[0] != "stay" {
		t.Fatalf("recipients after purge: %v", got)
	}
}

func TestSnapshot_GeneralForFiltersContainerScope(t *testing.T) {
	l := New()
	all := command.NewEntityRemoved("obj1", command.AllAgents())
	box := command.NewContainerStatusChanged("box", command.ContainerStatus{Open: true}, command.WatchingContainer("box"))
	chest := command.NewContainerStatusChanged("chest", command.ContainerStatus{}, command.WatchingContainer("chest"))
	l.Record(box)
	l.Record(all)
	l.Record(chest)
	snap := l.Drain()

	if got := snap.Containers(); len(got) != 2 || got[0] != "box" || got[1] != "chest" {
		t.Fatalf("containers=%v", got)
	}
	watchers := map[string][]string{"box": {"alice", "bob"}, "chest": {"bob"}}

	ids := func(cmds []command.Command) []string {
		out := make([]string, 0, len(cmds))
		for _, c := range cmds {
			out = append(out, c.ID)
		}
		return out
	}
	cases := map[string][]string{
		"alice": {box.ID, all.ID},
		"bob":   {box.ID, all.ID, chest.ID},
		"carol": {all.ID},
	}
	for agent, want := range cases {
		got := ids(snap.GeneralFor(agent, watchers))
		if len(got) != len(want) {
			t.Fatalf("%s: got %v want %v", agent, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s: got %v want %v", agent, got, want)
			}
		}
	}

	plain := Snapshot{General: []command.Command{all}}
	if got := plain.GeneralFor("carol", nil); len(got) != 1 {
		t.Fatalf("unscoped general filtered: %v", got)
	}
}
