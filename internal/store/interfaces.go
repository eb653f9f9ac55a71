package store

import (
	"context"
	"database/sql"
	"time"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows us to pass either a connection pool or an active transaction to
// the store methods. Multi-statement transitions (claim, complete, release)
// must always run under a Tx so partial state never commits.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// JobStore handles persistence of jobs and their state transitions.
// Every mutation bumps the job's version column.
type JobStore interface {
	// CreateJob inserts a new pending job.
	CreateJob(ctx context.Context, tx DBTransaction, job *Job) error

	// GetJobByID returns a job with its result fields joined, or nil when absent.
	GetJobByID(ctx context.Context, id string) (*Job, error)

	// GetJobForUpdate locks and returns a job row inside tx, or nil when absent.
	GetJobForUpdate(ctx context.Context, tx DBTransaction, id string) (*Job, error)

	// ListJobs returns jobs ordered by status priority
	// (pending < claimed < processing < succeeded < failed) then created_at DESC.
	// A nil status returns all jobs.
	ListJobs(ctx context.Context, status *JobStatus, limit, offset int) ([]Job, error)

	// CountJobs returns the number of jobs per status.
	CountJobs(ctx context.Context) (map[JobStatus]int64, error)

	// CountPending returns the total number of pending jobs.
	CountPending(ctx context.Context) (int64, error)

	// SelectPendingForClaim locks and returns the oldest pending job matching
	// operation (any operation when nil) using FOR UPDATE SKIP LOCKED, so a
	// claimer never blocks on a row locked by a concurrent claim.
	// Returns nil when no unlocked candidate exists.
	SelectPendingForClaim(ctx context.Context, tx DBTransaction, operation *string) (*Job, error)

	// MarkClaimed transitions a locked pending job to claimed for botID.
	MarkClaimed(ctx context.Context, tx DBTransaction, jobID, botID string) error

	// MarkProcessing transitions claimed -> processing when botID is the
	// claimer. Reports whether a row changed.
	MarkProcessing(ctx context.Context, tx DBTransaction, jobID, botID string) (bool, error)

	// MarkSucceeded transitions processing -> succeeded when botID is the claimer.
	MarkSucceeded(ctx context.Context, tx DBTransaction, jobID, botID string) (bool, error)

	// MarkFailed transitions processing -> failed when botID is the claimer.
	MarkFailed(ctx context.Context, tx DBTransaction, jobID, botID, errMsg string) (bool, error)

	// ReleaseToPending forces a claimed or processing job back to pending,
	// clears the claim fields, bumps attempts, and records reason in error.
	ReleaseToPending(ctx context.Context, tx DBTransaction, jobID, reason string) (bool, error)

	// FindStuckClaimed returns jobs claimed before cutoff, oldest first.
	FindStuckClaimed(ctx context.Context, cutoff time.Time, limit int) ([]Job, error)

	// FindStuckProcessing returns jobs started before cutoff, oldest first.
	FindStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]Job, error)
}

// BotStore handles bot identity, liveness, and assignment.
type BotStore interface {
	// UpsertBot registers a bot, reviving a soft-deleted row with the same id.
	// A nil assignedOperation preserves any existing pin on revival.
	UpsertBot(ctx context.Context, tx DBTransaction, id string, assignedOperation *string) (*Bot, error)

	// GetBotByID returns a bot, or nil when absent. Soft-deleted bots are only
	// returned when includeDeleted is set.
	GetBotByID(ctx context.Context, id string, includeDeleted bool) (*Bot, error)

	// GetBotForUpdate locks and returns a non-deleted bot row inside tx.
	GetBotForUpdate(ctx context.Context, tx DBTransaction, id string) (*Bot, error)

	// ListBots returns bots with computed_status derived against downThreshold.
	ListBots(ctx context.Context, includeDeleted bool, downThreshold time.Duration) ([]Bot, error)

	// Heartbeat stamps last_heartbeat_at. Reports whether a live row matched.
	Heartbeat(ctx context.Context, id string) (bool, error)

	// SetCurrentJob updates the bot's job binding and status.
	SetCurrentJob(ctx context.Context, tx DBTransaction, botID string, jobID *string, status BotStatus) error

	// ClearCurrentJob unbinds jobID from the bot and returns it to idle, but
	// only while the binding still points at jobID.
	ClearCurrentJob(ctx context.Context, tx DBTransaction, botID, jobID string) error

	// SetAssignedOperation pins (or, with nil, unpins) the bot's operation.
	SetAssignedOperation(ctx context.Context, tx DBTransaction, botID string, operation *string) (bool, error)

	// SoftDelete stamps deleted_at, clears the job binding, and sets status down.
	SoftDelete(ctx context.Context, tx DBTransaction, botID string) (bool, error)

	// ResetBot clears the job binding and stuck flags and returns the bot to idle.
	ResetBot(ctx context.Context, tx DBTransaction, botID string) (bool, error)

	// MarkPotentiallyStuck flags a bot whose job exceeded the processing
	// timeout while the bot kept heartbeating within heartbeatWithin. A bot
	// that has gone fully silent is dead, not stuck, and is left unflagged.
	MarkPotentiallyStuck(ctx context.Context, tx DBTransaction, botID, jobID string, heartbeatWithin time.Duration) error

	// ClearRecoveredStuckFlags resets health for flagged bots that are no
	// longer stuck on a long-running processing job. Returns rows cleared.
	ClearRecoveredStuckFlags(ctx context.Context, tx DBTransaction, cutoff time.Time) (int64, error)

	// CountBots returns counts keyed by computed status (idle/busy/down/deleted).
	CountBots(ctx context.Context, downThreshold time.Duration) (map[string]int64, error)

	// DeleteExpired physically removes bots soft-deleted before cutoff.
	// With dryRun set it only counts.
	DeleteExpired(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error)
}

// ResultStore handles the immutable terminal-attempt records.
type ResultStore interface {
	// CreateResult inserts a result row. Result rows are never updated.
	CreateResult(ctx context.Context, tx DBTransaction, result *Result) error

	// BotStats aggregates a bot's results newer than the window.
	BotStats(ctx context.Context, botID string, window time.Duration) (*BotStats, error)

	// RecentByBot returns a bot's most recent results, newest first.
	RecentByBot(ctx context.Context, botID string, limit int) ([]Result, error)

	// PurgeOrphaned deletes results whose processed_by bot no longer exists.
	// With dryRun set it only counts.
	PurgeOrphaned(ctx context.Context, dryRun bool) (int64, error)
}
