// Package store contains the database layer for the botfleet coordinator.
package store

import "time"

// Job represents a single unit of work: two operands and an operation.
// The job row is canonical for the job/bot binding; Bot.CurrentJobID is a
// denormalized pointer protected by a partial unique index.
type Job struct {
	ID         string
	A          int64
	B          int64
	Operation  string
	Status     JobStatus
	ClaimedBy  *string
	CreatedAt  time.Time
	ClaimedAt  *time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Attempts   int
	Error      *string
	Version    int64

	// Joined from the results table on reads; nil while non-terminal.
	Result     *int64
	DurationMS *int64
}

// JobStatus represents the state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusClaimed    JobStatus = "claimed"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Bot represents a registered worker.
type Bot struct {
	ID                string
	Status            BotStatus
	CurrentJobID      *string
	AssignedOperation *string
	HealthStatus      BotHealth
	StuckJobID        *string
	HealthCheckedAt   *time.Time
	LastHeartbeatAt   time.Time
	CreatedAt         time.Time
	DeletedAt         *time.Time

	// ComputedStatus is derived in SQL: "deleted" when soft-deleted, "down"
	// when the heartbeat is older than the down threshold, else Status.
	ComputedStatus string
}

// BotStatus represents the stored runtime state of a bot.
type BotStatus string

const (
	BotStatusIdle BotStatus = "idle"
	BotStatusBusy BotStatus = "busy"
	BotStatusDown BotStatus = "down"
)

// BotHealth is the monitor-maintained health classification of a bot.
type BotHealth string

const (
	BotHealthNormal          BotHealth = "normal"
	BotHealthPotentiallyStuck BotHealth = "potentially_stuck"
	BotHealthUnhealthy       BotHealth = "unhealthy"
)

// Result is an immutable record of one terminal job attempt.
type Result struct {
	ID          string
	JobID       string
	A           int64
	B           int64
	Operation   string
	Result      *int64
	ProcessedBy string
	ProcessedAt time.Time
	DurationMS  int64
	Status      ResultStatus
	Error       *string
}

// ResultStatus is the terminal outcome recorded in a result row.
type ResultStatus string

const (
	ResultStatusSucceeded ResultStatus = "succeeded"
	ResultStatusFailed    ResultStatus = "failed"
)

// BotStats aggregates a bot's result history over a time window.
type BotStats struct {
	TotalJobs     int64
	Succeeded     int64
	Failed        int64
	AvgDurationMS float64
	MinDurationMS int64
	MaxDurationMS int64
}
