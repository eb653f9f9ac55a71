package service

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"botfleet/internal/observability"
	"botfleet/internal/operations"
	"botfleet/internal/store"

	"github.com/google/uuid"
)

// Release reasons recorded in the job's error column.
const (
	ReasonTimeoutInClaimed    = "timeout-in-claimed"
	ReasonTimeoutInProcessing = "timeout-in-processing"
	ReasonBotTerminated       = "bot-terminated"
	ReasonBotReset            = "bot-reset"
)

const operandMax = 999

// JobService implements every job state transition.
type JobService struct {
	store      Store
	registry   *operations.Registry
	lake       Sink
	logger     *slog.Logger
	metrics    *observability.Metrics
	maxPending int64
}

// NewJobService wires the job lifecycle service.
func NewJobService(s Store, registry *operations.Registry, lake Sink, logger *slog.Logger, metrics *observability.Metrics, maxPending int64) *JobService {
	return &JobService{
		store:      s,
		registry:   registry,
		lake:       lake,
		logger:     logger,
		metrics:    metrics,
		maxPending: maxPending,
	}
}

// Populate creates a batch of pending jobs with random operands. An empty
// operation picks one at random for the whole batch. The pending ceiling
// bounds queue growth under a wedged fleet.
func (s *JobService) Populate(ctx context.Context, batchSize int, operation string) ([]store.Job, error) {
	if batchSize <= 0 {
		batchSize = 5
	}
	if batchSize > 100 {
		return nil, BadRequest(CodeBadRequest, "batch_size must be between 1 and 100")
	}

	if operation == "" {
		names := s.registry.Names()
		operation = names[rand.IntN(len(names))]
	} else if !s.registry.Contains(operation) {
		return nil, BadRequest(CodeUnknownOperation, "unknown operation: "+operation)
	}

	pending, err := s.store.CountPending(ctx)
	if err != nil {
		return nil, classify(err, "failed to count pending jobs")
	}
	if pending+int64(batchSize) > s.maxPending {
		return nil, Conflict(CodePendingCeiling, "pending job ceiling reached")
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, classify(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	jobs := make([]store.Job, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		job := store.Job{
			ID:        uuid.NewString(),
			A:         rand.Int64N(operandMax + 1),
			B:         rand.Int64N(operandMax + 1),
			Operation: operation,
			Status:    store.JobStatusPending,
			CreatedAt: now,
		}
		// Never generate a division by zero.
		if operation == "divide" {
			job.B = 1 + rand.Int64N(operandMax)
		}

		if err := s.store.CreateJob(ctx, tx, &job); err != nil {
			return nil, classify(err, "failed to create job")
		}
		jobs = append(jobs, job)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err, "failed to commit job batch")
	}

	s.logger.InfoContext(ctx, "populated jobs", "count", len(jobs), "operation", operation)
	return jobs, nil
}

// List returns jobs in status-priority order. An empty status returns all.
func (s *JobService) List(ctx context.Context, status string, limit, offset int) ([]store.Job, error) {
	var filter *store.JobStatus
	if status != "" {
		st := store.JobStatus(status)
		switch st {
		case store.JobStatusPending, store.JobStatusClaimed, store.JobStatusProcessing,
			store.JobStatusSucceeded, store.JobStatusFailed:
			filter = &st
		default:
			return nil, BadRequest(CodeBadRequest, "unknown status: "+status)
		}
	}

	jobs, err := s.store.ListJobs(ctx, filter, limit, offset)
	if err != nil {
		return nil, classify(err, "failed to list jobs")
	}
	return jobs, nil
}

// Get returns one job with its result fields.
func (s *JobService) Get(ctx context.Context, id string) (*store.Job, error) {
	job, err := s.store.GetJobByID(ctx, id)
	if err != nil {
		return nil, classify(err, "failed to get job")
	}
	if job == nil {
		return nil, NotFound(CodeNotFound, "job not found")
	}
	return job, nil
}

// Claim atomically binds the oldest matching pending job to the bot.
//
// The whole protocol is one transaction: lock the bot row (a bot cannot race
// itself into two jobs), pick the oldest pending candidate with
// FOR UPDATE SKIP LOCKED, flip it to claimed, set the bot's binding, and pin
// an unassigned bot to the job's operation. There is no check-then-update
// window. A nil job with nil error means no work; callers poll.
func (s *JobService) Claim(ctx context.Context, botID string) (*store.Job, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, classify(err, "failed to begin claim transaction")
	}
	defer tx.Rollback()

	bot, err := s.store.GetBotForUpdate(ctx, tx, botID)
	if err != nil {
		return nil, classify(err, "failed to lock bot")
	}
	if bot == nil {
		return nil, NotFound(CodeUnknownBot, "unknown bot: "+botID)
	}
	if bot.CurrentJobID != nil {
		return nil, Conflict(CodeBusyBot, "bot already has an active job")
	}

	job, err := s.store.SelectPendingForClaim(ctx, tx, bot.AssignedOperation)
	if err != nil {
		return nil, classify(err, "failed to select pending job")
	}
	if job == nil {
		return nil, nil
	}

	// The schema constraint makes this unreachable; treat it as a bug.
	if !s.registry.Contains(job.Operation) {
		return nil, fatal(ctx, s.logger, s.metrics, "job references unknown operation",
			"job_id", job.ID, "operation", job.Operation)
	}

	if err := s.store.MarkClaimed(ctx, tx, job.ID, botID); err != nil {
		return nil, classify(err, "failed to mark job claimed")
	}
	if err := s.store.SetCurrentJob(ctx, tx, botID, &job.ID, store.BotStatusBusy); err != nil {
		return nil, classify(err, "failed to bind job to bot")
	}
	if bot.AssignedOperation == nil {
		if _, err := s.store.SetAssignedOperation(ctx, tx, botID, &job.Operation); err != nil {
			return nil, classify(err, "failed to pin bot operation")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err, "failed to commit claim")
	}

	now := time.Now().UTC()
	job.Status = store.JobStatusClaimed
	job.ClaimedBy = &botID
	job.ClaimedAt = &now
	job.Version++

	if s.metrics != nil {
		s.metrics.ClaimsTotal.Add(ctx, 1)
	}
	s.logger.InfoContext(ctx, "job claimed", "job_id", job.ID, "bot_id", botID, "operation", job.Operation)

	return job, nil
}

// Start transitions a claimed job to processing. Replays against an already
// processing job by the same bot succeed.
func (s *JobService) Start(ctx context.Context, jobID, botID string) error {
	ok, err := s.store.MarkProcessing(ctx, nil, jobID, botID)
	if err != nil {
		return classify(err, "failed to start job")
	}
	if ok {
		return nil
	}

	job, err := s.store.GetJobByID(ctx, jobID)
	if err != nil {
		return classify(err, "failed to get job")
	}
	if job == nil {
		return NotFound(CodeNotFound, "job not found")
	}
	if job.Status == store.JobStatusProcessing && job.ClaimedBy != nil && *job.ClaimedBy == botID {
		return nil
	}
	return Conflict(CodeConflict, "job is not claimed by caller")
}

// Complete records a successful terminal transition: job row, result row, and
// bot unbinding commit together; the datalake append happens after commit and
// is best-effort.
func (s *JobService) Complete(ctx context.Context, jobID, botID string, result int64, durationMS int64) error {
	rec := store.Result{
		ID:          uuid.NewString(),
		Result:      &result,
		ProcessedBy: botID,
		DurationMS:  durationMS,
		Status:      store.ResultStatusSucceeded,
	}
	return s.finish(ctx, jobID, botID, rec)
}

// Fail records a failed terminal transition. No result value is produced.
func (s *JobService) Fail(ctx context.Context, jobID, botID, errMsg string, durationMS int64) error {
	rec := store.Result{
		ID:          uuid.NewString(),
		ProcessedBy: botID,
		DurationMS:  durationMS,
		Status:      store.ResultStatusFailed,
		Error:       &errMsg,
	}
	return s.finish(ctx, jobID, botID, rec)
}

func (s *JobService) finish(ctx context.Context, jobID, botID string, rec store.Result) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return classify(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	job, err := s.store.GetJobForUpdate(ctx, tx, jobID)
	if err != nil {
		return classify(err, "failed to lock job")
	}
	if job == nil {
		return NotFound(CodeNotFound, "job not found")
	}

	if job.ClaimedBy == nil || *job.ClaimedBy != botID {
		return Conflict(CodeConflict, "job is not claimed by caller")
	}

	switch job.Status {
	case store.JobStatusProcessing:
		// proceed
	case store.JobStatusSucceeded, store.JobStatusFailed:
		return s.classifyReplay(ctx, job, rec)
	default:
		return Conflict(CodeConflict, "job has not been started")
	}

	var ok bool
	if rec.Status == store.ResultStatusSucceeded {
		ok, err = s.store.MarkSucceeded(ctx, tx, jobID, botID)
	} else {
		ok, err = s.store.MarkFailed(ctx, tx, jobID, botID, *rec.Error)
	}
	if err != nil {
		return classify(err, "failed to finish job")
	}
	if !ok {
		return fatal(ctx, s.logger, s.metrics, "terminal transition lost despite row lock",
			"job_id", jobID, "bot_id", botID)
	}

	rec.JobID = job.ID
	rec.A = job.A
	rec.B = job.B
	rec.Operation = job.Operation
	rec.ProcessedAt = time.Now().UTC()

	if err := s.store.CreateResult(ctx, tx, &rec); err != nil {
		return classify(err, "failed to create result")
	}
	if err := s.store.ClearCurrentJob(ctx, tx, botID, jobID); err != nil {
		return classify(err, "failed to unbind bot")
	}

	if err := tx.Commit(); err != nil {
		return classify(err, "failed to commit terminal transition")
	}

	s.appendToLake(ctx, rec)
	s.logger.InfoContext(ctx, "job finished",
		"job_id", jobID, "bot_id", botID, "status", rec.Status, "duration_ms", rec.DurationMS)

	return nil
}

// classifyReplay resolves a terminal transition attempted against an already
// terminal job: an identical replay succeeds, anything else conflicts.
func (s *JobService) classifyReplay(ctx context.Context, job *store.Job, rec store.Result) error {
	sameOutcome := (job.Status == store.JobStatusSucceeded) == (rec.Status == store.ResultStatusSucceeded)
	if !sameOutcome {
		return Conflict(CodeAlreadyTerminal, "job already finished with a different outcome")
	}

	full, err := s.store.GetJobByID(ctx, job.ID)
	if err != nil {
		return classify(err, "failed to get job result")
	}
	if full == nil {
		return NotFound(CodeNotFound, "job not found")
	}

	if rec.Status == store.ResultStatusSucceeded {
		if full.Result != nil && rec.Result != nil && *full.Result == *rec.Result {
			return nil
		}
	} else {
		if full.Error != nil && rec.Error != nil && *full.Error == *rec.Error {
			return nil
		}
	}

	return Conflict(CodeAlreadyTerminal, "job already finished with different arguments")
}

// Release forces a claimed or processing job back to pending, clears both
// sides of the binding, bumps attempts, and records the reason.
func (s *JobService) Release(ctx context.Context, jobID, reason string) error {
	if reason == "" {
		reason = "released by admin"
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return classify(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	job, err := s.store.GetJobForUpdate(ctx, tx, jobID)
	if err != nil {
		return classify(err, "failed to lock job")
	}
	if job == nil {
		return NotFound(CodeNotFound, "job not found")
	}
	if job.Status != store.JobStatusClaimed && job.Status != store.JobStatusProcessing {
		return BadRequest(CodeBadRequest, "job is "+string(job.Status)+" and cannot be released")
	}

	ok, err := s.store.ReleaseToPending(ctx, tx, jobID, reason)
	if err != nil {
		return classify(err, "failed to release job")
	}
	if !ok {
		return fatal(ctx, s.logger, s.metrics, "release lost despite row lock", "job_id", jobID)
	}

	if job.ClaimedBy != nil {
		if err := s.store.ClearCurrentJob(ctx, tx, *job.ClaimedBy, jobID); err != nil {
			return classify(err, "failed to unbind bot")
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(err, "failed to commit release")
	}

	s.logger.InfoContext(ctx, "job released", "job_id", jobID, "reason", reason)
	return nil
}

// TimeoutProcessing terminal-fails a processing job that exceeded the
// processing timeout, attributing the failure to the bot that held it.
// Called by the processing monitor.
func (s *JobService) TimeoutProcessing(ctx context.Context, jobID string) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return classify(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	job, err := s.store.GetJobForUpdate(ctx, tx, jobID)
	if err != nil {
		return classify(err, "failed to lock job")
	}
	if job == nil {
		return NotFound(CodeNotFound, "job not found")
	}
	if job.Status != store.JobStatusProcessing {
		// Finished or released between detection and recovery; nothing to do.
		return Conflict(CodeConflict, "job is no longer processing")
	}
	if job.ClaimedBy == nil {
		return fatal(ctx, s.logger, s.metrics, "processing job without claimer",
			"job_id", jobID, "status", job.Status)
	}

	botID := *job.ClaimedBy
	ok, err := s.store.MarkFailed(ctx, tx, jobID, botID, ReasonTimeoutInProcessing)
	if err != nil {
		return classify(err, "failed to fail timed-out job")
	}
	if !ok {
		return fatal(ctx, s.logger, s.metrics, "timeout fail lost despite row lock", "job_id", jobID)
	}

	now := time.Now().UTC()
	var durationMS int64
	if job.StartedAt != nil {
		durationMS = now.Sub(*job.StartedAt).Milliseconds()
	}
	errMsg := ReasonTimeoutInProcessing
	rec := store.Result{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		A:           job.A,
		B:           job.B,
		Operation:   job.Operation,
		ProcessedBy: botID,
		ProcessedAt: now,
		DurationMS:  durationMS,
		Status:      store.ResultStatusFailed,
		Error:       &errMsg,
	}

	if err := s.store.CreateResult(ctx, tx, &rec); err != nil {
		return classify(err, "failed to create timeout result")
	}
	if err := s.store.ClearCurrentJob(ctx, tx, botID, jobID); err != nil {
		return classify(err, "failed to unbind bot")
	}

	if err := tx.Commit(); err != nil {
		return classify(err, "failed to commit timeout fail")
	}

	s.appendToLake(ctx, rec)
	s.logger.WarnContext(ctx, "job failed on processing timeout", "job_id", jobID, "bot_id", botID)

	return nil
}

// Summary returns per-status job and bot counts.
func (s *JobService) Summary(ctx context.Context, downThreshold time.Duration) (map[store.JobStatus]int64, map[string]int64, error) {
	jobs, err := s.store.CountJobs(ctx)
	if err != nil {
		return nil, nil, classify(err, "failed to count jobs")
	}
	bots, err := s.store.CountBots(ctx, downThreshold)
	if err != nil {
		return nil, nil, classify(err, "failed to count bots")
	}
	return jobs, bots, nil
}

// PendingCount exposes the pending queue depth for the observable gauge.
func (s *JobService) PendingCount(ctx context.Context) (int64, error) {
	return s.store.CountPending(ctx)
}

func (s *JobService) appendToLake(ctx context.Context, rec store.Result) {
	appendResultToLake(ctx, s.lake, s.logger, s.metrics, rec)
}
