package service

import (
	"context"
	"log/slog"
	"time"

	"botfleet/internal/observability"
	"botfleet/internal/operations"
	"botfleet/internal/store"

	"github.com/google/uuid"
)

// BotService manages bot identity, liveness, and assignment.
type BotService struct {
	store    Store
	registry *operations.Registry
	lake     Sink
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewBotService wires the bot lifecycle service.
func NewBotService(s Store, registry *operations.Registry, lake Sink, logger *slog.Logger, metrics *observability.Metrics) *BotService {
	return &BotService{store: s, registry: registry, lake: lake, logger: logger, metrics: metrics}
}

// Register creates a bot or revives a soft-deleted one with the same id.
// Registration is idempotent on id. An existing operation pin survives
// revival unless a new one is supplied.
func (s *BotService) Register(ctx context.Context, id string, assignedOperation *string) (*store.Bot, error) {
	if id == "" {
		return nil, BadRequest(CodeBadRequest, "bot id is required")
	}
	if assignedOperation != nil && !s.registry.Contains(*assignedOperation) {
		return nil, BadRequest(CodeUnknownOperation, "unknown operation: "+*assignedOperation)
	}

	bot, err := s.store.UpsertBot(ctx, nil, id, assignedOperation)
	if err != nil {
		return nil, classify(err, "failed to register bot")
	}

	s.logger.InfoContext(ctx, "bot registered", "bot_id", id)
	return bot, nil
}

// Heartbeat stamps the bot's liveness timestamp.
func (s *BotService) Heartbeat(ctx context.Context, id string) error {
	ok, err := s.store.Heartbeat(ctx, id)
	if err != nil {
		return classify(err, "failed to update heartbeat")
	}
	if !ok {
		return NotFound(CodeUnknownBot, "unknown bot: "+id)
	}
	return nil
}

// AssignOperation pins the bot to an operation, or with nil restores dynamic
// pinning on the next claim. Admin only.
func (s *BotService) AssignOperation(ctx context.Context, id string, operation *string) (*store.Bot, error) {
	if operation != nil && !s.registry.Contains(*operation) {
		return nil, BadRequest(CodeUnknownOperation, "unknown operation: "+*operation)
	}

	ok, err := s.store.SetAssignedOperation(ctx, nil, id, operation)
	if err != nil {
		return nil, classify(err, "failed to assign operation")
	}
	if !ok {
		return nil, NotFound(CodeUnknownBot, "unknown bot: "+id)
	}

	bot, err := s.store.GetBotByID(ctx, id, false)
	if err != nil {
		return nil, classify(err, "failed to get bot")
	}
	if bot == nil {
		return nil, NotFound(CodeUnknownBot, "unknown bot: "+id)
	}

	s.logger.InfoContext(ctx, "bot operation assigned", "bot_id", id, "operation", operation)
	return bot, nil
}

// SoftDelete retires a bot. A job still in claimed is released back to
// pending with release semantics; a job already processing cannot be retried
// blindly and is terminal-failed with error bot-terminated, including its
// Result row. The bot row itself survives until the retention cleaner
// removes it.
func (s *BotService) SoftDelete(ctx context.Context, id string) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return classify(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	bot, err := s.store.GetBotForUpdate(ctx, tx, id)
	if err != nil {
		return classify(err, "failed to lock bot")
	}
	if bot == nil {
		return NotFound(CodeUnknownBot, "unknown bot: "+id)
	}

	var failedRec *store.Result
	if bot.CurrentJobID != nil {
		job, err := s.store.GetJobForUpdate(ctx, tx, *bot.CurrentJobID)
		if err != nil {
			return classify(err, "failed to lock held job")
		}

		switch {
		case job == nil:
			// Binding already stale; SoftDelete clears it below.
		case job.Status == store.JobStatusClaimed:
			if _, err := s.store.ReleaseToPending(ctx, tx, job.ID, ReasonBotTerminated); err != nil {
				return classify(err, "failed to release held job")
			}
		case job.Status == store.JobStatusProcessing:
			rec, err := s.failTerminated(ctx, tx, job, id)
			if err != nil {
				return err
			}
			failedRec = rec
		}
	}

	ok, err := s.store.SoftDelete(ctx, tx, id)
	if err != nil {
		return classify(err, "failed to soft-delete bot")
	}
	if !ok {
		return NotFound(CodeUnknownBot, "unknown bot: "+id)
	}

	if err := tx.Commit(); err != nil {
		return classify(err, "failed to commit soft delete")
	}

	if failedRec != nil {
		appendResultToLake(ctx, s.lake, s.logger, s.metrics, *failedRec)
	}

	s.logger.InfoContext(ctx, "bot soft-deleted", "bot_id", id)
	return nil
}

// failTerminated terminal-fails a processing job whose bot is being retired,
// writing the Result row inside the caller's transaction.
func (s *BotService) failTerminated(ctx context.Context, tx store.Tx, job *store.Job, botID string) (*store.Result, error) {
	ok, err := s.store.MarkFailed(ctx, tx, job.ID, botID, ReasonBotTerminated)
	if err != nil {
		return nil, classify(err, "failed to fail held job")
	}
	if !ok {
		return nil, fatal(ctx, s.logger, s.metrics, "terminal fail lost despite row lock",
			"job_id", job.ID, "bot_id", botID)
	}

	now := time.Now().UTC()
	var durationMS int64
	if job.StartedAt != nil {
		durationMS = now.Sub(*job.StartedAt).Milliseconds()
	}
	errMsg := ReasonBotTerminated
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
		return nil, classify(err, "failed to create result for held job")
	}

	return &rec, nil
}

// Reset is the admin escape hatch: release any bound job, clear stuck flags,
// and return the bot to idle.
func (s *BotService) Reset(ctx context.Context, id string) (*store.Bot, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, classify(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	bot, err := s.store.GetBotForUpdate(ctx, tx, id)
	if err != nil {
		return nil, classify(err, "failed to lock bot")
	}
	if bot == nil {
		return nil, NotFound(CodeUnknownBot, "unknown bot: "+id)
	}

	if bot.CurrentJobID != nil {
		if _, err := s.store.ReleaseToPending(ctx, tx, *bot.CurrentJobID, ReasonBotReset); err != nil {
			return nil, classify(err, "failed to release held job")
		}
	}

	ok, err := s.store.ResetBot(ctx, tx, id)
	if err != nil {
		return nil, classify(err, "failed to reset bot")
	}
	if !ok {
		return nil, NotFound(CodeUnknownBot, "unknown bot: "+id)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err, "failed to commit reset")
	}

	bot, err = s.store.GetBotByID(ctx, id, false)
	if err != nil {
		return nil, classify(err, "failed to get bot")
	}

	s.logger.InfoContext(ctx, "bot reset", "bot_id", id)
	return bot, nil
}

// List returns bots with computed status for observability.
func (s *BotService) List(ctx context.Context, includeDeleted bool, downThreshold time.Duration) ([]store.Bot, error) {
	bots, err := s.store.ListBots(ctx, includeDeleted, downThreshold)
	if err != nil {
		return nil, classify(err, "failed to list bots")
	}
	return bots, nil
}

// Stats aggregates a bot's result history over the window.
func (s *BotService) Stats(ctx context.Context, id string, window time.Duration) (*store.BotStats, []store.Result, error) {
	bot, err := s.store.GetBotByID(ctx, id, true)
	if err != nil {
		return nil, nil, classify(err, "failed to get bot")
	}
	if bot == nil {
		return nil, nil, NotFound(CodeUnknownBot, "unknown bot: "+id)
	}

	stats, err := s.store.BotStats(ctx, id, window)
	if err != nil {
		return nil, nil, classify(err, "failed to aggregate bot stats")
	}

	recent, err := s.store.RecentByBot(ctx, id, 50)
	if err != nil {
		return nil, nil, classify(err, "failed to list recent results")
	}

	return stats, recent, nil
}
