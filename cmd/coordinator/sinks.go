package main

import (
	"context"
	"errors"
	"log"

	"sharedworld.ai/internal/persistence/indexdb"
	"sharedworld.ai/internal/persistence/snapshot"
	"sharedworld.ai/internal/sim/coordinator"
	"sharedworld.ai/internal/sim/tuning"
)

// multiStepLogger hands each step to every sink and joins their errors.
type multiStepLogger []coordinator.StepLogger

func (m multiStepLogger) WriteStep(rep coordinator.StepReport) error {
	var errs []error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.WriteStep(rep); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// snapshotter writes the world every N steps. WriteStep runs inside the step,
// so the actual snapshot is taken on its own goroutine once the step is done.
type snapshotter struct {
	c       *coordinator.Coordinator
	tune    tuning.Tuning
	dataDir string
	idx     *indexdb.SQLiteIndex
	log     *log.Logger

	due chan struct{}
}

func newSnapshotter(c *coordinator.Coordinator, tune tuning.Tuning, dataDir string, idx *indexdb.SQLiteIndex, logger *log.Logger) *snapshotter {
	return &snapshotter{
		c:       c,
		tune:    tune,
		dataDir: dataDir,
		idx:     idx,
		log:     logger,
		due:     make(chan struct{}, 1),
	}
}

func (s *snapshotter) WriteStep(rep coordinator.StepReport) error {
	if (rep.Step+1)%uint64(s.tune.SnapshotEverySteps) != 0 {
		return nil
	}
	select {
	case s.due <- struct{}{}:
	default:
	}
	return nil
}

func (s *snapshotter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.due:
			s.write()
		}
	}
}

func (s *snapshotter) write() {
	steps, state := s.c.Snapshot()
	snap := snapshot.SnapshotV1{
		Header:        snapshot.Header{Version: snapshot.Version, Step: steps},
		TickRateHz:    s.tune.TickRateHz,
		Grouped:       s.tune.GroupedUpdates,
		CallTimeoutMS: s.tune.CallTimeoutMs,
		Agents:        s.c.Names(),
		State:         state,
	}
	path := snapshot.Path(s.dataDir, steps)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		s.log.Printf("snapshot write: %v", err)
		return
	}
	s.idx.RecordSnapshot(path, snap)
	s.log.Printf("snapshot step=%d entities=%d agents=%d", steps, len(state.Entities), len(snap.Agents))
}
