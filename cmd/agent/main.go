package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sharedworld.ai/internal/agent"
	"sharedworld.ai/internal/agent/join"
	"sharedworld.ai/internal/agent/replica"
	"sharedworld.ai/internal/discovery"
	"sharedworld.ai/internal/transport/ws"
)

func main() {
	var (
		name        = flag.String("name", "bot", "agent name")
		peers       = flag.String("peers", "coordinator=ws://localhost:8080/v1/ws", "comma separated name=url pairs")
		coordinator = flag.String("coordinator", "coordinator", "peer name of the coordinator")
		speed       = flag.Float64("speed", replica.DefaultSpeed, "distance moved per step")
		history     = flag.Int("history", 256, "steps of local history to keep")
		area        = flag.Float64("area", 10, "half-width of the wander area")
		think       = flag.Duration("think", 500*time.Millisecond, "decision interval")
		seed        = flag.Int64("seed", 0, "random seed (0 = time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[agent "+*name+"] ", log.LstdFlags|log.Lmicroseconds)

	resolver, err := discovery.ParsePeers(*peers)
	if err != nil {
		logger.Fatalf("peers: %v", err)
	}

	local := agent.NewLocal(*name, *speed, *history, logger)
	defer local.Close()

	dialer := &ws.Dialer{Peers: resolver, Handler: local, Log: logger}
	bot := agent.NewBot(agent.BotConfig{Area: *area, ThinkEvery: *think, Seed: *seed}, local, dialer, logger)

	ctx, cancel := signalContext()
	defer cancel()

	cfg := join.Config{Coordinator: *coordinator}
	for {
		welcome, err := join.Join(ctx, cfg, dialer, *name, local.Gate(), logger)
		if err != nil {
			logger.Printf("join: %v", err)
			return
		}
		logger.Printf("joined at step %d start=(%.2f,%.2f) grouped=%v", welcome.Step, welcome.Start.X, welcome.Start.Y, welcome.Params.Grouped)

		client := dialer.Client()
		if client == nil {
			continue
		}
		runCtx, stop := context.WithCancel(ctx)
		go func() { _ = bot.Run(runCtx) }()

		select {
		case <-ctx.Done():
			stop()
			client.Close()
			return
		case <-client.Done():
			stop()
			logger.Printf("connection lost; rejoining")
		}
	}
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
