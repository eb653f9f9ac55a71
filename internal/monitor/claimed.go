package monitor

import (
	"context"
	"log/slog"
	"time"

	"botfleet/internal/service"
	"botfleet/internal/store"

	"github.com/jonboulle/clockwork"
)

// claimedJobStore is the read-side slice of the store the monitor scans.
type claimedJobStore interface {
	FindStuckClaimed(ctx context.Context, cutoff time.Time, limit int) ([]store.Job, error)
}

// releaseService releases a job back to pending with release semantics.
type releaseService interface {
	Release(ctx context.Context, jobID, reason string) error
}

// ClaimedJobMonitor returns jobs stuck in claimed back to pending. A bot that
// claims and then goes silent before starting loses the job here; the bot
// binding is cleared and attempts bumped through the normal release path.
type ClaimedJobMonitor struct {
	jobs        releaseService
	store       claimedJobStore
	clock       clockwork.Clock
	logger      *slog.Logger
	timeout     time.Duration
	maxPerCycle int
	batchSize   int
}

// NewClaimedJobMonitor wires stuck-claim recovery.
func NewClaimedJobMonitor(jobs releaseService, s claimedJobStore, clock clockwork.Clock, logger *slog.Logger, timeout time.Duration, maxPerCycle, batchSize int) *ClaimedJobMonitor {
	return &ClaimedJobMonitor{
		jobs:        jobs,
		store:       s,
		clock:       clock,
		logger:      logger,
		timeout:     timeout,
		maxPerCycle: maxPerCycle,
		batchSize:   batchSize,
	}
}

func (m *ClaimedJobMonitor) Name() string {
	return "ClaimedJobMonitor"
}

// RunOnce recovers up to maxPerCycle stuck claimed jobs in batches.
func (m *ClaimedJobMonitor) RunOnce(ctx context.Context) (Report, error) {
	cutoff := m.clock.Now().Add(-m.timeout)
	var report Report

	for report.Checked < m.maxPerCycle {
		limit := min(m.batchSize, m.maxPerCycle-report.Checked)
		stuck, err := m.store.FindStuckClaimed(ctx, cutoff, limit)
		if err != nil {
			return report, err
		}
		if len(stuck) == 0 {
			break
		}

		for _, job := range stuck {
			report.Checked++

			err := m.jobs.Release(ctx, job.ID, service.ReasonTimeoutInClaimed)
			switch {
			case err == nil:
				report.Recovered++
				m.logger.Warn("recovered stuck claimed job",
					"job_id", job.ID, "claimed_by", job.ClaimedBy,
					"claimed_at", job.ClaimedAt)
			case service.KindOf(err) == service.KindNotFound,
				service.KindOf(err) == service.KindBadRequest:
				// State changed between detection and recovery; skip.
			default:
				report.Errors++
				m.logger.Error("failed to recover claimed job", "job_id", job.ID, "error", err)
			}
		}
	}

	return report, nil
}
