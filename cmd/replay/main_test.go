package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"sharedworld.ai/internal/persistence/snapshot"
	"sharedworld.ai/internal/persistence/steplog"
	"sharedworld.ai/internal/sim/command"
	"sharedworld.ai/internal/sim/coordinator"
)

func writeSteps(t *testing.T, dataDir string, reps ...coordinator.StepReport) {
	t.Helper()
	l := steplog.NewLogger(dataDir)
	for _, rep := range reps {
		if err := l.WriteStep(rep); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRun_SummarizesAndAppliesOnSnapshot(t *testing.T) {
	dir := t.TempDir()
	cup := command.Entity{ID: "cup", Name: "cup", Kind: command.KindObject}
	book := command.Entity{ID: "book", Name: "book", Kind: command.KindObject}
	writeSteps(t, dir,
		coordinator.StepReport{Step: 0, Admitted: []string{"alice"}, Order: []string{"alice"}},
		coordinator.StepReport{Step: 1, Order: []string{"alice"}, Failed: []string{"alice"}, Broadcast: []command.Command{command.NewEntityAdded(book, command.AllAgents())}},
		coordinator.StepReport{Step: 2, Departed: []string{"alice"}, Broadcast: []command.Command{command.NewEntityRemoved("cup", command.AllAgents())}},
	)

	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, Step: 1},
		State:  command.WorldState{Entities: []command.Entity{cup}},
	}
	var out bytes.Buffer
	sum, err := run(options{StepsDir: steplog.Dir(dir), Verbose: true, Snapshot: &snap}, &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Steps != 3 || sum.Joins != 1 || sum.Leaves != 1 || sum.Failures["alice"] != 1 {
		t.Fatalf("summary=%+v", sum)
	}
	if sum.Kinds[command.EntityAdded] != 1 || sum.Kinds[command.EntityRemoved] != 1 {
		t.Fatalf("kinds=%v", sum.Kinds)
	}
	if _, ok := sum.World.Entity("cup"); ok {
		t.Fatalf("cup should be removed")
	}
	if _, ok := sum.World.Entity("book"); !ok {
		t.Fatalf("book should be present")
	}
	if !strings.Contains(out.String(), "joined=alice") {
		t.Fatalf("verbose output:\n%s", out.String())
	}
}

func TestRun_DetectsGap(t *testing.T) {
	dir := t.TempDir()
	writeSteps(t, dir, coordinator.StepReport{Step: 0}, coordinator.StepReport{Step: 2})
	if _, err := run(options{StepsDir: steplog.Dir(dir)}, &bytes.Buffer{}); !errors.Is(err, steplog.ErrStepGap) {
		t.Fatalf("expected gap, got %v", err)
	}
}

func TestRun_RangeLimits(t *testing.T) {
	dir := t.TempDir()
	writeSteps(t, dir, coordinator.StepReport{Step: 0}, coordinator.StepReport{Step: 1}, coordinator.StepReport{Step: 2}, coordinator.StepReport{Step: 3})
	sum, err := run(options{StepsDir: steplog.Dir(dir), From: 1, To: 2}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Steps != 2 || sum.First != 1 || sum.Last != 2 {
		t.Fatalf("summary=%+v", sum)
	}
}
