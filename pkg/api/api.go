// Package api contains shared JSON request/response structs.
// This package is shared between the coordinator, the bots, and botctl.
package api

import "time"

// PopulateRequest is the request body for creating a batch of jobs.
type PopulateRequest struct {
	BatchSize int    `json:"batch_size,omitempty"`
	Operation string `json:"operation,omitempty"`
}

// PopulateResponse lists the ids of the jobs that were created.
type PopulateResponse struct {
	Created []string `json:"created"`
}

// ClaimRequest is the request body for claiming a pending job.
type ClaimRequest struct {
	BotID string `json:"bot_id"`
}

// StartRequest is the request body for marking a claimed job as processing.
type StartRequest struct {
	BotID string `json:"bot_id"`
}

// CompleteRequest is the request body for reporting a successful job.
type CompleteRequest struct {
	BotID      string `json:"bot_id"`
	Result     int64  `json:"result"`
	DurationMS int64  `json:"duration_ms"`
}

// FailRequest is the request body for reporting a failed job.
type FailRequest struct {
	BotID      string `json:"bot_id"`
	Error      string `json:"error"`
	DurationMS int64  `json:"duration_ms"`
}

// ReleaseRequest is the request body for forcing a job back to pending.
type ReleaseRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RegisterRequest is the request body for registering a bot.
type RegisterRequest struct {
	ID                string `json:"id"`
	AssignedOperation string `json:"assigned_operation,omitempty"`
}

// HeartbeatRequest is the request body for a bot heartbeat.
type HeartbeatRequest struct {
	ID string `json:"id"`
}

// AssignOperationRequest sets or clears a bot's pinned operation.
// An empty operation clears the pin and restores dynamic pinning.
type AssignOperationRequest struct {
	Operation string `json:"operation,omitempty"`
}

// JobResponse represents a job in API responses.
type JobResponse struct {
	ID         string     `json:"id"`
	A          int64      `json:"a"`
	B          int64      `json:"b"`
	Operation  string     `json:"operation"`
	Status     string     `json:"status"`
	ClaimedBy  *string    `json:"claimed_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Attempts   int        `json:"attempts"`
	Error      *string    `json:"error,omitempty"`
	Version    int64      `json:"version"`
	Result     *int64     `json:"result,omitempty"`
	DurationMS *int64     `json:"duration_ms,omitempty"`
}

// BotResponse represents a bot in API responses.
// ComputedStatus folds soft deletion and heartbeat staleness into the
// stored status: deleted > down > stored.
type BotResponse struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	ComputedStatus    string     `json:"computed_status"`
	CurrentJobID      *string    `json:"current_job_id,omitempty"`
	AssignedOperation *string    `json:"assigned_operation,omitempty"`
	HealthStatus      string     `json:"health_status"`
	StuckJobID        *string    `json:"stuck_job_id,omitempty"`
	LastHeartbeatAt   time.Time  `json:"last_heartbeat_at"`
	CreatedAt         time.Time  `json:"created_at"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
}

// OperationsResponse lists the operation names the coordinator recognizes.
type OperationsResponse struct {
	Names []string `json:"names"`
}

// OKResponse is the generic success body for side-effecting endpoints.
type OKResponse struct {
	OK bool `json:"ok"`
}

// MetricsSummaryResponse is the body of GET /metrics/summary.
type MetricsSummaryResponse struct {
	Jobs map[string]int64 `json:"jobs"`
	Bots map[string]int64 `json:"bots"`
}

// BotStatsResponse aggregates a bot's result history.
type BotStatsResponse struct {
	BotID         string           `json:"bot_id"`
	PeriodHours   int              `json:"period_hours"`
	TotalJobs     int64            `json:"total_jobs"`
	Succeeded     int64            `json:"succeeded"`
	Failed        int64            `json:"failed"`
	SuccessRate   float64          `json:"success_rate"`
	AvgDurationMS float64          `json:"avg_duration_ms"`
	MinDurationMS int64            `json:"min_duration_ms"`
	MaxDurationMS int64            `json:"max_duration_ms"`
	RecentJobs    []RecentJobEntry `json:"recent_jobs"`
}

// RecentJobEntry is one row of a bot's recent result history.
type RecentJobEntry struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	DurationMS  int64     `json:"duration_ms"`
	ProcessedAt time.Time `json:"processed_at"`
	Error       *string   `json:"error,omitempty"`
}

// CleanupReport is the body of POST /admin/cleanup and each history entry
// of GET /admin/cleanup/status.
type CleanupReport struct {
	Timestamp      time.Time `json:"timestamp"`
	DryRun         bool      `json:"dry_run"`
	DeletedBots    int64     `json:"deleted_bots"`
	OrphanedResults int64    `json:"orphaned_results"`
	Errors         []string  `json:"errors,omitempty"`
}

// CleanupStatusResponse is the body of GET /admin/cleanup/status.
type CleanupStatusResponse struct {
	History []CleanupReport `json:"history"`
	NextRun *time.Time      `json:"next_run,omitempty"`
}

// DatalakeStatsResponse summarizes the ndjson archive.
type DatalakeStatsResponse struct {
	TotalFiles   int              `json:"total_files"`
	TotalRecords int64            `json:"total_records"`
	Succeeded    int64            `json:"succeeded"`
	Failed       int64            `json:"failed"`
	Daily        map[string]int64 `json:"daily"`
}

// ErrorResponse is the standard error response format.
// Code is a stable machine-readable string and part of the external contract.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
