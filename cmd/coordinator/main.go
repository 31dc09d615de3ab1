package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"sharedworld.ai/internal/discovery"
	"sharedworld.ai/internal/liveness"
	"sharedworld.ai/internal/persistence/indexdb"
	"sharedworld.ai/internal/persistence/steplog"
	"sharedworld.ai/internal/sim/coordinator"
	"sharedworld.ai/internal/sim/tuning"
	"sharedworld.ai/internal/sim/world"
	"sharedworld.ai/internal/transport/observer"
	"sharedworld.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (empty for defaults)")
		layoutPath = flag.String("layout", "", "path to layout.yaml (default: tuning layout)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite step index")
		disableLog = flag.Bool("disable_steplog", false, "disable the compressed step log")

		grouped     = flag.String("grouped", "", "override grouped_updates (true|false)")
		callTimeout = flag.Duration("call_timeout", 0, "override call_timeout_ms")
		tickHz      = flag.Int("tick_hz", 0, "override tick_rate_hz")

		localAgents = flag.Int("local_agents", 0, "number of in-process wandering agents")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[coordinator] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	switch strings.ToLower(strings.TrimSpace(*grouped)) {
	case "":
	case "true", "1", "yes":
		tune.GroupedUpdates = true
	case "false", "0", "no":
		tune.GroupedUpdates = false
	default:
		logger.Fatalf("-grouped: want true or false, got %q", *grouped)
	}
	if *callTimeout > 0 {
		tune.CallTimeoutMs = int(*callTimeout / time.Millisecond)
	}
	if *tickHz > 0 {
		tune.TickRateHz = *tickHz
	}
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	lp := strings.TrimSpace(*layoutPath)
	if lp == "" {
		lp = tune.LayoutPath
	}
	layout, err := world.LoadLayout(lp)
	if err != nil {
		logger.Fatalf("load layout: %v", err)
	}

	w := world.New(tune.World(), nil)
	dir := discovery.NewDirectory[coordinator.AgentHandle]()
	c := coordinator.New(tune.Coordinator(), w, dir, logger)
	w.Load(layout)
	logger.Printf("world loaded: layout=%q grouped=%v tick_hz=%d call_timeout=%s", lp, tune.GroupedUpdates, tune.TickRateHz, tune.CallTimeout())

	ctx, cancel := signalContext()
	defer cancel()

	wsSrv := ws.NewServer(c, dir, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds))
	watcher := liveness.NewWatcher(tune.Liveness(), func(name string) {
		logger.Printf("agent %s unresponsive; removing", name)
		c.Remove(name)
		// A remote agent that recovers finds its connection gone and rejoins.
		wsSrv.Kick(name)
	}, log.New(os.Stdout, "[liveness] ", log.LstdFlags|log.Lmicroseconds))
	c.SetLiveness(watcher)
	go func() { _ = watcher.Run(ctx) }()

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "steps.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertMeta("tuning", tune); err != nil {
			logger.Printf("index: upsert tuning: %v", err)
		}
	}

	obsSrv := observer.NewServer(c, log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))
	sinks := multiStepLogger{obsSrv}
	if !*disableLog {
		stepLog := steplog.NewLogger(*dataDir)
		stepLog.SegmentSteps = tune.StepLogSegmentSteps
		defer stepLog.Close()
		sinks = append(sinks, stepLog)
	}
	if idx != nil {
		sinks = append(sinks, idx)
	}
	// The sinks are closed by the defers above; everything writing to them
	// must have returned first.
	var writers sync.WaitGroup
	defer writers.Wait()

	if tune.SnapshotEverySteps > 0 {
		snaps := newSnapshotter(c, tune, *dataDir, idx, logger)
		writers.Add(1)
		go func() {
			defer writers.Done()
			snaps.run(ctx)
		}()
		sinks = append(sinks, snaps)
	}
	c.SetStepLogger(sinks)

	writers.Add(1)
	go func() {
		defer writers.Done()
		if err := c.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("coordinator stopped: %v", err)
		}
	}()

	if *localAgents > 0 {
		startLocalAgents(ctx, c, dir, *localAgents, tune)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, c.Metrics(), idx)
	})
	obsSrv.Register(mux)
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		c.Stop()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
	}
	cancel()
	c.Stop()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
