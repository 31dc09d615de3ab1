package main

import (
	"fmt"
	"io"

	"sharedworld.ai/internal/persistence/indexdb"
	"sharedworld.ai/internal/sim/coordinator"
)

// writeMetrics renders the minimal Prometheus exposition format.
func writeMetrics(w io.Writer, m coordinator.Metrics, idx *indexdb.SQLiteIndex) {
	fmt.Fprintf(w, "# HELP sharedworld_step Next step to run.\n")
	fmt.Fprintf(w, "# TYPE sharedworld_step gauge\n")
	fmt.Fprintf(w, "sharedworld_step %d\n", m.Step)

	fmt.Fprintf(w, "# HELP sharedworld_agents Registered agents.\n")
	fmt.Fprintf(w, "# TYPE sharedworld_agents gauge\n")
	fmt.Fprintf(w, "sharedworld_agents %d\n", m.Agents)

	fmt.Fprintf(w, "# HELP sharedworld_entities Shared entities in the world.\n")
	fmt.Fprintf(w, "# TYPE sharedworld_entities gauge\n")
	fmt.Fprintf(w, "sharedworld_entities %d\n", m.Entities)

	fmt.Fprintf(w, "# HELP sharedworld_queue_depth Backlog waiting for the next step.\n")
	fmt.Fprintf(w, "# TYPE sharedworld_queue_depth gauge\n")
	fmt.Fprintf(w, "sharedworld_queue_depth{queue=%q} %d\n", "arrivals", m.PendingArrivals)
	fmt.Fprintf(w, "sharedworld_queue_depth{queue=%q} %d\n", "ledger", m.LedgerLen)

	fmt.Fprintf(w, "# HELP sharedworld_step_ms Last step duration in milliseconds.\n")
	fmt.Fprintf(w, "# TYPE sharedworld_step_ms gauge\n")
	fmt.Fprintf(w, "sharedworld_step_ms %.3f\n", m.StepMS)

	fmt.Fprintf(w, "# HELP sharedworld_last_step_agents Agents advanced or skipped in the last step.\n")
	fmt.Fprintf(w, "# TYPE sharedworld_last_step_agents gauge\n")
	fmt.Fprintf(w, "sharedworld_last_step_agents{result=%q} %d\n", "advanced", m.LastAdvanced)
	fmt.Fprintf(w, "sharedworld_last_step_agents{result=%q} %d\n", "failed", m.LastFailed)

	fmt.Fprintf(w, "# HELP sharedworld_advance_failures_total Advance calls that failed or timed out.\n")
	fmt.Fprintf(w, "# TYPE sharedworld_advance_failures_total counter\n")
	fmt.Fprintf(w, "sharedworld_advance_failures_total %d\n", m.FailedTotal)

	fmt.Fprintf(w, "# HELP sharedworld_commands_total Commands by dispatch outcome.\n")
	fmt.Fprintf(w, "# TYPE sharedworld_commands_total counter\n")
	fmt.Fprintf(w, "sharedworld_commands_total{outcome=%q} %d\n", "recorded", m.Dispatch.Recorded)
	fmt.Fprintf(w, "sharedworld_commands_total{outcome=%q} %d\n", "pushed", m.Dispatch.Pushed)
	fmt.Fprintf(w, "sharedworld_commands_total{outcome=%q} %d\n", "push_failed", m.Dispatch.PushFailures)

	if idx == nil {
		return
	}
	st := idx.Stats()
	fmt.Fprintf(w, "# HELP sharedworld_index_queue_depth Pending sqlite index writes.\n")
	fmt.Fprintf(w, "# TYPE sharedworld_index_queue_depth gauge\n")
	fmt.Fprintf(w, "sharedworld_index_queue_depth %d\n", st.QueueDepth)
	fmt.Fprintf(w, "# HELP sharedworld_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(w, "# TYPE sharedworld_index_dropped_total counter\n")
	fmt.Fprintf(w, "sharedworld_index_dropped_total{kind=%q} %d\n", "step", st.DropStepTotal)
	fmt.Fprintf(w, "sharedworld_index_dropped_total{kind=%q} %d\n", "snapshot", st.DropSnapshotTotal)
}
