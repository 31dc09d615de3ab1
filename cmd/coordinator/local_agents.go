package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"sharedworld.ai/internal/agent"
	"sharedworld.ai/internal/agent/join"
	"sharedworld.ai/internal/agent/replica"
	"sharedworld.ai/internal/discovery"
	"sharedworld.ai/internal/sim/coordinator"
	"sharedworld.ai/internal/sim/tuning"
)

// startLocalAgents runs n wandering agents inside the coordinator process.
// They join through the same Announce/Welcome path as remote agents.
func startLocalAgents(ctx context.Context, c *coordinator.Coordinator, dir *discovery.Directory[coordinator.AgentHandle], n int, tune tuning.Tuning) {
	direct := agent.Direct{C: c}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("local-%d", i+1)
		logger := log.New(os.Stdout, "[agent "+name+"] ", log.LstdFlags|log.Lmicroseconds)

		local := agent.NewLocal(name, replica.DefaultSpeed, tune.AgentHistoryWindow, logger)
		if err := dir.Register(name, local); err != nil {
			logger.Printf("register: %v", err)
			local.Close()
			continue
		}
		go func(seed int64) {
			defer local.Close()
			defer dir.Unregister(name)
			if _, err := join.Join(ctx, join.Config{}, direct, name, local.Gate(), logger); err != nil {
				logger.Printf("join: %v", err)
				return
			}
			bot := agent.NewBot(agent.BotConfig{Seed: seed}, local, direct.Sender(name), logger)
			if err := bot.Run(ctx); err != nil && err != context.Canceled {
				logger.Printf("bot stopped: %v", err)
			}
		}(int64(i + 1))
	}
}
