package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	got, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if got.TickRateHz != 10 || got.CallTimeout() != 2*time.Second || got.GroupedUpdates {
		t.Fatalf("defaults=%+v", got)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeFile(t, `
grouped_updates: true
call_timeout_ms: 250
heartbeat:
  max_misses: 5
assigned_poses:
  alice: {x: 3, y: 4, heading: 1.5}
`)
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cc := got.Coordinator()
	if !cc.Grouped || cc.CallTimeout != 250*time.Millisecond || cc.TickRateHz != 10 {
		t.Fatalf("coordinator config=%+v", cc)
	}
	lc := got.Liveness()
	if lc.MaxMisses != 5 || lc.Interval != time.Second {
		t.Fatalf("liveness config=%+v", lc)
	}
	wc := got.World()
	if wc.Assigned["alice"].Y != 4 || wc.DefaultShape.Radius != 0.3 || wc.DoorSpeed != 25 {
		t.Fatalf("world config=%+v", wc)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"tick":     "tick_rate_hz: -1\n",
		"door":     "door_speed: 200\n",
		"parallel": "max_parallel: -2\n",
		"segment":  "steplog_segment_steps: -1\n",
		"version":  "protocol_version: \"0.9\"\n",
		"syntax":   "tick_rate_hz: [\n",
	}
	for name, body := range cases {
		if _, err := Load(writeFile(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		} else if !strings.Contains(err.Error(), "tuning.yaml") {
			t.Fatalf("%s: error not prefixed: %v", name, err)
		}
	}
}
