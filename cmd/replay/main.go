package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"sharedworld.ai/internal/agent/replica"
	"sharedworld.ai/internal/persistence/snapshot"
	"sharedworld.ai/internal/persistence/steplog"
	"sharedworld.ai/internal/sim/command"
	"sharedworld.ai/internal/sim/coordinator"
)

func main() {
	var (
		dataDir  = flag.String("data", "./data", "runtime data directory")
		stepsDir = flag.String("steps", "", "dir containing steps-*.jsonl.zst (default: <data>/steps)")
		snapPath = flag.String("snapshot", "", "path to .snap.zst to rebuild the world from (optional)")
		fromStep = flag.Uint64("from_step", 0, "first step to report (inclusive, optional)")
		toStep   = flag.Uint64("to_step", 0, "last step to read (inclusive, optional)")
		verbose  = flag.Bool("v", false, "print one line per step")
	)
	flag.Parse()

	dir := *stepsDir
	if dir == "" {
		dir = steplog.Dir(*dataDir)
	}
	opts := options{StepsDir: dir, From: *fromStep, To: *toStep, Verbose: *verbose}
	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d step=%d agents=%d entities=%d grouped=%v tick_rate=%d\n",
			snap.Header.Version, snap.Header.Step, len(snap.Agents), len(snap.State.Entities), snap.Grouped, snap.TickRateHz)
		opts.Snapshot = &snap
	}

	sum, err := run(opts, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	sum.print(os.Stdout)
}

type options struct {
	StepsDir string
	From     uint64
	To       uint64
	Verbose  bool
	Snapshot *snapshot.SnapshotV1
}

type summary struct {
	First, Last uint64
	Steps       int
	Joins       int
	Leaves      int
	Failures    map[string]int
	Kinds       map[command.Kind]int

	// World is set when a snapshot was replayed forward.
	World *replica.Replica
}

var errStop = errors.New("stop")

// run reads the step log in order, checks that steps are contiguous and
// optionally applies broadcast commands on top of a snapshot.
func run(opts options, out io.Writer) (summary, error) {
	sum := summary{Failures: map[string]int{}, Kinds: map[command.Kind]int{}}

	var base uint64
	if opts.Snapshot != nil {
		sum.World = replica.New("", replica.DefaultSpeed)
		sum.World.Welcome(opts.Snapshot.State, command.Pose{}, nil)
		base = opts.Snapshot.Header.Step
	}

	var cont steplog.Continuity
	err := steplog.ReadDir(opts.StepsDir, func(rep coordinator.StepReport) error {
		if opts.To != 0 && rep.Step > opts.To {
			return errStop
		}
		if err := cont.Check(rep.Step); err != nil {
			return err
		}
		if sum.World != nil && rep.Step >= base {
			sum.World.ApplyCommands(rep.Broadcast)
		}
		if rep.Step < opts.From {
			return nil
		}
		if sum.Steps == 0 {
			sum.First = rep.Step
		}
		sum.Last = rep.Step
		sum.Steps++
		sum.Joins += len(rep.Admitted)
		sum.Leaves += len(rep.Departed)
		for _, name := range rep.Failed {
			sum.Failures[name]++
		}
		for _, c := range rep.Broadcast {
			sum.Kinds[c.Kind]++
		}
		if opts.Verbose {
			fmt.Fprintf(out, "step=%d agents=%d failed=%d moved=%d commands=%d dur=%s", rep.Step, len(rep.Order), len(rep.Failed), len(rep.Moved), len(rep.Broadcast), rep.Duration)
			if len(rep.Admitted) > 0 {
				fmt.Fprintf(out, " joined=%s", strings.Join(rep.Admitted, ","))
			}
			if len(rep.Departed) > 0 {
				fmt.Fprintf(out, " left=%s", strings.Join(rep.Departed, ","))
			}
			fmt.Fprintln(out)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return sum, err
	}
	if sum.World != nil {
		if first, ok := firstChecked(cont); ok && first > base {
			return sum, fmt.Errorf("step log starts after snapshot step %d", base)
		}
	}
	return sum, nil
}

func firstChecked(c steplog.Continuity) (uint64, bool) {
	last, ok := c.Last()
	if !ok {
		return 0, false
	}
	return last - uint64(c.Count-1), true
}

func (s summary) print(w io.Writer) {
	if s.Steps == 0 {
		fmt.Fprintln(w, "no steps in range")
		return
	}
	fmt.Fprintf(w, "steps %d..%d ok: count=%d joins=%d leaves=%d\n", s.First, s.Last, s.Steps, s.Joins, s.Leaves)

	kinds := make([]string, 0, len(s.Kinds))
	for k := range s.Kinds {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-26s %d\n", k, s.Kinds[command.Kind(k)])
	}

	names := make([]string, 0, len(s.Failures))
	for n := range s.Failures {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  failed %-19s %d\n", n, s.Failures[n])
	}

	if s.World != nil {
		fmt.Fprintf(w, "world: entities=%d resets=%d\n", len(s.World.EntityIDs()), s.World.Resets())
	}
}
