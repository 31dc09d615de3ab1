package steplog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sharedworld.ai/internal/sim/command"
	"sharedworld.ai/internal/sim/coordinator"
)

func TestLogger_RoundTripAcrossRotation(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(dir)
	clock := time.Date(2026, 1, 2, 3, 59, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	cmd := command.NewWorldReset()
	for step := uint64(0); step < 3; step++ {
		if err := l.WriteStep(coordinator.StepReport{Step: step, Advanced: []string{"alice"}, Broadcast: []command.Command{cmd}}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	clock = clock.Add(2 * time.Minute)
	if err := l.WriteStep(coordinator.StepReport{Step: 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(Dir(dir))
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files=%v", files)
	}

	var cont Continuity
	var got []coordinator.StepReport
	err = ReadDir(Dir(dir), func(rep coordinator.StepReport) error {
		got = append(got, rep)
		return cont.Check(rep.Step)
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 4 || cont.Count != 4 {
		t.Fatalf("got %d steps", len(got))
	}
	if len(got[0].Broadcast) != 1 || got[0].Broadcast[0].Kind != command.WorldReset {
		t.Fatalf("broadcast=%+v", got[0].Broadcast)
	}
	if last, ok := cont.Last(); !ok || last != 3 {
		t.Fatalf("last=%d ok=%v", last, ok)
	}
}

func TestLogger_ReopenStartsNewSegment(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		l := NewLogger(dir)
		l.now = func() time.Time { return clock }
		if err := l.WriteStep(coordinator.StepReport{Step: uint64(i)}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	n := 0
	if err := ReadDir(Dir(dir), func(coordinator.StepReport) error { n++; return nil }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 2 {
		t.Fatalf("n=%d", n)
	}
}

func TestLogger_RejectsStepsOutOfOrder(t *testing.T) {
	l := NewLogger(t.TempDir())
	defer l.Close()
	if err := l.WriteStep(coordinator.StepReport{Step: 5}); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, step := range []uint64{5, 4} {
		if err := l.WriteStep(coordinator.StepReport{Step: step}); !errors.Is(err, ErrStepOrder) {
			t.Fatalf("step %d: expected ErrStepOrder, got %v", step, err)
		}
	}
	if last, ok := l.Last(); !ok || last != 5 {
		t.Fatalf("last=%d ok=%v", last, ok)
	}
}

func TestLogger_CutsSegmentsBySteps(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(dir)
	l.SegmentSteps = 2
	clock := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	for step := uint64(10); step < 15; step++ {
		if err := l.WriteStep(coordinator.StepReport{Step: step}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(Dir(dir))
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	want := []string{
		SegmentPath(Dir(dir), "2026-01-02-03", 10),
		SegmentPath(Dir(dir), "2026-01-02-03", 12),
		SegmentPath(Dir(dir), "2026-01-02-03", 14),
	}
	if len(files) != len(want) {
		t.Fatalf("files=%v", files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("file %d: got %s want %s", i, filepath.Base(files[i]), filepath.Base(want[i]))
		}
	}

	var cont Continuity
	if err := ReadDir(Dir(dir), func(rep coordinator.StepReport) error { return cont.Check(rep.Step) }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if cont.Count != 5 {
		t.Fatalf("count=%d", cont.Count)
	}
}

func TestContinuity_DetectsGap(t *testing.T) {
	var c Continuity
	for _, s := range []uint64{4, 5} {
		if err := c.Check(s); err != nil {
			t.Fatalf("check %d: %v", s, err)
		}
	}
	if err := c.Check(7); !errors.Is(err, ErrStepGap) {
		t.Fatalf("expected gap, got %v", err)
	}
	if err := c.Check(5); !errors.Is(err, ErrStepGap) {
		t.Fatalf("expected gap on repeat, got %v", err)
	}
}

func TestReadDir_EmptyDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(Dir(dir), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := ReadDir(Dir(dir), func(coordinator.StepReport) error { t.Fatalf("unexpected step"); return nil }); err != nil {
		t.Fatalf("read: %v", err)
	}
}
