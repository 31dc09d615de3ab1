package coordinator

import "sharedworld.ai/internal/sim/dispatch"

type Metrics struct {
	Step uint64 `json:"step"`

	Agents          int `json:"agents"`
	PendingArrivals int `json:"pending_arrivals"`
	LedgerLen       int `json:"ledger_len"`
	Entities        int `json:"entities"`

	StepMS       float64 `json:"step_ms"`
	LastAdvanced int     `json:"last_advanced"`
	LastFailed   int     `json:"last_failed"`
	FailedTotal  uint64  `json:"failed_total"`

	Dispatch dispatch.Stats `json:"dispatch"`
}

type stepMetrics struct {
	stepMS      float64
	advanced    int
	failed      int
	failedTotal uint64
}

func (c *Coordinator) storeMetrics(rep StepReport) {
	prev, _ := c.metrics.Load().(stepMetrics)
	c.metrics.Store(stepMetrics{
		stepMS:      float64(rep.Duration.Microseconds()) / 1000,
		advanced:    len(rep.Advanced),
		failed:      len(rep.Failed),
		failedTotal: prev.failedTotal + uint64(len(rep.Failed)),
	})
}

func (c *Coordinator) Metrics() Metrics {
	if c == nil {
		return Metrics{}
	}
	last, _ := c.metrics.Load().(stepMetrics)
	entities, _ := c.world.Counts()
	return Metrics{
		Step:            c.step.Load(),
		Agents:          c.reg.len(),
		PendingArrivals: c.arrivals.len(),
		LedgerLen:       c.ledger.Len(),
		Entities:        entities,
		StepMS:          last.stepMS,
		LastAdvanced:    last.advanced,
		LastFailed:      last.failed,
		FailedTotal:     last.failedTotal,
		Dispatch:        c.policy.Stats(),
	}
}
