package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

const maxCleanupHistory = 10

// retentionStore is the slice of the store the cleaner deletes through.
type retentionStore interface {
	DeleteExpired(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error)
	PurgeOrphaned(ctx context.Context, dryRun bool) (int64, error)
}

// CleanupReport records one retention run.
type CleanupReport struct {
	Timestamp       time.Time
	DryRun          bool
	DeletedBots     int64
	OrphanedResults int64
	Errors          []string
}

// RetentionCleaner physically removes bot rows soft-deleted beyond the
// retention window and purges result rows orphaned by that removal. It keeps
// a bounded history of recent runs for the admin API.
type RetentionCleaner struct {
	store     retentionStore
	clock     clockwork.Clock
	logger    *slog.Logger
	retention time.Duration
	schedule  cron.Schedule

	mu      sync.Mutex
	history []CleanupReport
}

// NewRetentionCleaner wires the retention cleanup loop. interval also feeds
// the schedule used to report the next run time.
func NewRetentionCleaner(s retentionStore, clock clockwork.Clock, logger *slog.Logger, retention, interval time.Duration) (*RetentionCleaner, error) {
	schedule, err := cron.ParseStandard(fmt.Sprintf("@every %s", interval))
	if err != nil {
		return nil, fmt.Errorf("failed to parse cleanup schedule: %w", err)
	}

	return &RetentionCleaner{
		store:     s,
		clock:     clock,
		logger:    logger,
		retention: retention,
		schedule:  schedule,
	}, nil
}

func (c *RetentionCleaner) Name() string {
	return "RetentionCleaner"
}

// RunOnce runs a real (non-dry-run) cleanup cycle.
func (c *RetentionCleaner) RunOnce(ctx context.Context) (Report, error) {
	report := c.Clean(ctx, false)
	return Report{
		Checked:   int(report.DeletedBots + report.OrphanedResults),
		Recovered: int(report.DeletedBots + report.OrphanedResults),
		Errors:    len(report.Errors),
	}, nil
}

// Clean runs one retention pass. With dryRun set it only counts. Every run,
// including failures, lands in the bounded history.
func (c *RetentionCleaner) Clean(ctx context.Context, dryRun bool) CleanupReport {
	cutoff := c.clock.Now().Add(-c.retention)
	report := CleanupReport{Timestamp: c.clock.Now().UTC(), DryRun: dryRun}

	bots, err := c.store.DeleteExpired(ctx, cutoff, dryRun)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		c.logger.Error("retention cleanup failed on bots", "error", err)
	} else {
		report.DeletedBots = bots
	}

	results, err := c.store.PurgeOrphaned(ctx, dryRun)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		c.logger.Error("retention cleanup failed on results", "error", err)
	} else {
		report.OrphanedResults = results
	}

	c.mu.Lock()
	c.history = append(c.history, report)
	if len(c.history) > maxCleanupHistory {
		c.history = c.history[len(c.history)-maxCleanupHistory:]
	}
	c.mu.Unlock()

	c.logger.Info("retention cleanup run",
		"dry_run", dryRun,
		"deleted_bots", report.DeletedBots,
		"orphaned_results", report.OrphanedResults,
		"errors", len(report.Errors))

	return report
}

// History returns recent runs, newest first.
func (c *RetentionCleaner) History() []CleanupReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]CleanupReport, len(c.history))
	for i, r := range c.history {
		out[len(c.history)-1-i] = r
	}
	return out
}

// NextRun reports when the schedule fires next.
func (c *RetentionCleaner) NextRun() time.Time {
	return c.schedule.Next(c.clock.Now())
}
