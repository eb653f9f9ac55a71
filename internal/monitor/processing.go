package monitor

import (
	"context"
	"log/slog"
	"time"

	"botfleet/internal/service"
	"botfleet/internal/store"

	"github.com/jonboulle/clockwork"
)

// processingJobStore is the slice of the store the monitor scans and flags
// bot health through.
type processingJobStore interface {
	FindStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]store.Job, error)
	MarkPotentiallyStuck(ctx context.Context, tx store.DBTransaction, botID, jobID string, heartbeatWithin time.Duration) error
	ClearRecoveredStuckFlags(ctx context.Context, tx store.DBTransaction, cutoff time.Time) (int64, error)
}

// timeoutService terminal-fails a timed-out processing job.
type timeoutService interface {
	TimeoutProcessing(ctx context.Context, jobID string) error
}

// ProcessingJobMonitor terminal-fails jobs stuck in processing. Unlike the
// claimed monitor the work is not retried automatically: a job that ran past
// the processing timeout gets a failed result so an operator can decide.
type ProcessingJobMonitor struct {
	jobs            timeoutService
	store           processingJobStore
	clock           clockwork.Clock
	logger          *slog.Logger
	timeout         time.Duration
	heartbeatWindow time.Duration
	maxPerCycle     int
	batchSize       int
}

// NewProcessingJobMonitor wires processing-timeout recovery. heartbeatWindow
// is the bot-down threshold: only bots still heartbeating within it are
// flagged potentially stuck.
func NewProcessingJobMonitor(jobs timeoutService, s processingJobStore, clock clockwork.Clock, logger *slog.Logger, timeout, heartbeatWindow time.Duration, maxPerCycle, batchSize int) *ProcessingJobMonitor {
	return &ProcessingJobMonitor{
		jobs:            jobs,
		store:           s,
		clock:           clock,
		logger:          logger,
		timeout:         timeout,
		heartbeatWindow: heartbeatWindow,
		maxPerCycle:     maxPerCycle,
		batchSize:       batchSize,
	}
}

func (m *ProcessingJobMonitor) Name() string {
	return "ProcessingJobMonitor"
}

// RunOnce flags the owning bots as potentially stuck (silent bots are dead,
// not stuck, and stay unflagged), fails the timed-out jobs, then clears
// health flags for bots that are no longer stuck.
func (m *ProcessingJobMonitor) RunOnce(ctx context.Context) (Report, error) {
	cutoff := m.clock.Now().Add(-m.timeout)
	var report Report

	for report.Checked < m.maxPerCycle {
		limit := min(m.batchSize, m.maxPerCycle-report.Checked)
		stuck, err := m.store.FindStuckProcessing(ctx, cutoff, limit)
		if err != nil {
			return report, err
		}
		if len(stuck) == 0 {
			break
		}

		for _, job := range stuck {
			report.Checked++

			if job.ClaimedBy != nil {
				if err := m.store.MarkPotentiallyStuck(ctx, nil, *job.ClaimedBy, job.ID, m.heartbeatWindow); err != nil {
					m.logger.Error("failed to flag stuck bot", "bot_id", *job.ClaimedBy, "error", err)
				}
			}

			err := m.jobs.TimeoutProcessing(ctx, job.ID)
			switch {
			case err == nil:
				report.Recovered++
				m.logger.Warn("failed stuck processing job",
					"job_id", job.ID, "claimed_by", job.ClaimedBy,
					"started_at", job.StartedAt)
			case service.KindOf(err) == service.KindNotFound,
				service.KindOf(err) == service.KindConflict:
				// State changed between detection and recovery; skip.
			default:
				report.Errors++
				m.logger.Error("failed to recover processing job", "job_id", job.ID, "error", err)
			}
		}
	}

	if _, err := m.store.ClearRecoveredStuckFlags(ctx, nil, cutoff); err != nil {
		m.logger.Error("failed to clear recovered stuck flags", "error", err)
	}

	return report, nil
}
