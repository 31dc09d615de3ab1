package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"sharedworld.ai/internal/persistence/snapshot"
	"sharedworld.ai/internal/sim/coordinator"
)

// SQLiteIndex is a queryable read model of the step log. Writes are queued to
// a single writer goroutine; the step log stays the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// sendMu is held for reading around every send so Close never closes ch
	// under a sender.
	sendMu sync.RWMutex
	closed bool

	dropStep     atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqStep reqKind = iota + 1
	reqSnapshot
	reqMeta
)

type req struct {
	kind reqKind

	step     coordinator.StepReport
	snapshot snapshotRow
	meta     [2]string
}

type snapshotRow struct {
	Step     uint64
	Path     string
	Entities int
	Agents   int
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropStepTotal     uint64 `json:"drop_step_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			step INTEGER PRIMARY KEY,
			duration_us INTEGER NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			advanced INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			moved INTEGER NOT NULL,
			general INTEGER NOT NULL,
			broadcast INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS joins (
			step INTEGER NOT NULL,
			agent TEXT NOT NULL,
			PRIMARY KEY (step, agent)
		);`,
		`CREATE TABLE IF NOT EXISTS leaves (
			step INTEGER NOT NULL,
			agent TEXT NOT NULL,
			PRIMARY KEY (step, agent)
		);`,
		`CREATE TABLE IF NOT EXISTS failures (
			step INTEGER NOT NULL,
			agent TEXT NOT NULL,
			PRIMARY KEY (step, agent)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_failures_agent_step ON failures(agent, step);`,
		`CREATE TABLE IF NOT EXISTS commands (
			step INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL,
			kind TEXT NOT NULL,
			target TEXT NOT NULL,
			scope TEXT NOT NULL,
			cmd_json TEXT NOT NULL,
			PRIMARY KEY (step, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_target_step ON commands(target, step);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			step INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			entities INTEGER NOT NULL,
			agents INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.sendMu.Lock()
		s.closed = true
		close(s.ch)
		s.sendMu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropStepTotal:     s.dropStep.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

// WriteStep queues a committed step. It never blocks the coordinator.
func (s *SQLiteIndex) WriteStep(rep coordinator.StepReport) error {
	if s == nil {
		return nil
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- req{kind: reqStep, step: rep}:
	default:
		s.dropStep.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil {
		return
	}
	r := snapshotRow{
		Step:     snap.Header.Step,
		Path:     path,
		Entities: len(snap.State.Entities),
		Agents:   len(snap.Agents),
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertMeta stores configuration the run was started with, as JSON. It goes
// through the writer queue like every other write but is never dropped.
func (s *SQLiteIndex) UpsertMeta(key string, v any) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return nil
	}
	s.ch <- req{kind: reqMeta, meta: [2]string{key, string(b)}}
	return nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertStep, _ := s.db.Prepare(`INSERT OR REPLACE INTO steps(step,duration_us,joins,leaves,advanced,failed,moved,general,broadcast,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertJoin, _ := s.db.Prepare(`INSERT OR REPLACE INTO joins(step,agent) VALUES(?,?)`)
	insertLeave, _ := s.db.Prepare(`INSERT OR REPLACE INTO leaves(step,agent) VALUES(?,?)`)
	insertFailure, _ := s.db.Prepare(`INSERT OR REPLACE INTO failures(step,agent) VALUES(?,?)`)
	insertCommand, _ := s.db.Prepare(`INSERT OR REPLACE INTO commands(step,seq,id,kind,target,scope,cmd_json) VALUES(?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(step,path,entities,agents) VALUES(?,?,?,?)`)
	upsertMeta, _ := s.db.Prepare(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertStep, insertJoin, insertLeave, insertFailure, insertCommand, insertSnapshot, upsertMeta} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	// names inserts one (step, agent) row per name; false means the tx was rolled back.
	names := func(st *sql.Stmt, step uint64, list []string) bool {
		if st == nil {
			return true
		}
		for _, name := range list {
			if _, err := tx.Stmt(st).Exec(int64(step), name); err != nil {
				rollback()
				return false
			}
			opCount++
		}
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqStep:
			rep := r.step
			raw, _ := json.Marshal(rep)
			if insertStep != nil {
				if _, err := tx.Stmt(insertStep).Exec(
					int64(rep.Step),
					rep.Duration.Microseconds(),
					len(rep.Admitted),
					len(rep.Departed),
					len(rep.Advanced),
					len(rep.Failed),
					len(rep.Moved),
					len(rep.General),
					len(rep.Broadcast),
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			if !names(insertJoin, rep.Step, rep.Admitted) ||
				!names(insertLeave, rep.Step, rep.Departed) ||
				!names(insertFailure, rep.Step, rep.Failed) {
				continue
			}
			for i, c := range rep.Broadcast {
				if insertCommand == nil {
					break
				}
				cj, _ := json.Marshal(c)
				if _, err := tx.Stmt(insertCommand).Exec(int64(rep.Step), i, c.ID, string(c.Kind), c.Target, c.Scope.String(), string(cj)); err != nil {
					rollback()
					break
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(int64(sn.Step), sn.Path, sn.Entities, sn.Agents); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqMeta:
			if upsertMeta != nil {
				if _, err := tx.Stmt(upsertMeta).Exec(r.meta[0], r.meta[1]); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
