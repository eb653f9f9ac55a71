// Package monitor contains the periodic background loops: job population,
// stuck-job recovery, and retention cleanup.
//
// The populator and the job-recovery steps are scheduled callers of the job
// service, so recovery and normal flow share one code path. The processing
// monitor's bot health flags and the retention cleaner write through the store
// directly. Every monitor exposes RunOnce so tests can drive a cycle
// deterministically without sleeping.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"botfleet/internal/observability"

	"github.com/jonboulle/clockwork"
)

// Report summarizes one monitor cycle.
type Report struct {
	Checked   int
	Recovered int
	Errors    int
}

// Monitor is one periodic loop body.
type Monitor interface {
	Name() string
	RunOnce(ctx context.Context) (Report, error)
}

// Runner drives a monitor on a fixed interval. Cycle errors are caught and
// logged at the cycle boundary; they never halt the loop.
type Runner struct {
	monitor  Monitor
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewRunner wires a monitor to its schedule.
func NewRunner(m Monitor, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{monitor: m, interval: interval, clock: clock, logger: logger, metrics: metrics}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("monitor started", "monitor", r.monitor.Name(), "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("monitor stopped", "monitor", r.monitor.Name())
			return
		case <-ticker.Chan():
		}

		// A cycle must not outlive its own period.
		cycleCtx, cancel := context.WithTimeout(ctx, r.interval)
		report, err := r.monitor.RunOnce(cycleCtx)
		cancel()
		if err != nil {
			r.logger.Error("monitor cycle failed", "monitor", r.monitor.Name(), "error", err)
			continue
		}

		if r.metrics != nil && report.Recovered > 0 {
			r.metrics.MonitorRecoveries.Add(ctx, int64(report.Recovered))
		}
		if report.Checked > 0 {
			r.logger.Info("monitor cycle",
				"monitor", r.monitor.Name(),
				"checked", report.Checked,
				"recovered", report.Recovered,
				"errors", report.Errors)
		}
	}
}
