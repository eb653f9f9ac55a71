package service

import (
	"context"
	"errors"
	"log/slog"

	"botfleet/internal/datalake"
	"botfleet/internal/observability"
	"botfleet/internal/store"
)

// Store combines the interfaces the services need. The postgres store
// satisfies it; tests supply hand-rolled mocks.
type Store interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	Ping(ctx context.Context) error
	store.JobStore
	store.BotStore
	store.ResultStore
}

// Sink is the append-only datalake the job service mirrors results into.
type Sink interface {
	Append(ctx context.Context, rec datalake.Record) error
}

// classify maps store-level failures onto the service error taxonomy.
// Constraint violations that encode business rules become conflicts with
// their contract codes; everything else from the store is retryable.
func classify(err error, message string) error {
	switch {
	case errors.Is(err, store.ErrUniqueBotCurrentJob):
		return Conflict(CodeUniqueBotCurrentJob, "bot is already bound to an active job")
	case errors.Is(err, store.ErrJobStateConsistency):
		return Conflict(CodeJobStateConsistency, "job state consistency constraint violated")
	case errors.Is(err, store.ErrSerialization):
		return Transient(message, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Transient(message, err)
	default:
		return Transient(message, err)
	}
}

// fatal logs an invariant violation with full context and bumps the
// dedicated counter before returning the classified error.
func fatal(ctx context.Context, logger *slog.Logger, metrics *observability.Metrics, message string, args ...any) error {
	logger.ErrorContext(ctx, message, args...)
	if metrics != nil {
		metrics.FatalErrors.Add(ctx, 1)
	}
	return Fatal(message, nil)
}

// appendResultToLake mirrors a committed result into the datalake. Best
// effort: failures are logged and counted, never propagated, and the append
// survives a cancelled request because the owning transaction already
// committed.
func appendResultToLake(ctx context.Context, lake Sink, logger *slog.Logger, metrics *observability.Metrics, rec store.Result) {
	if lake == nil {
		return
	}

	lakeCtx := context.WithoutCancel(ctx)
	record := datalake.Record{
		ID:          rec.ID,
		JobID:       rec.JobID,
		A:           rec.A,
		B:           rec.B,
		Operation:   rec.Operation,
		Result:      rec.Result,
		ProcessedBy: rec.ProcessedBy,
		ProcessedAt: rec.ProcessedAt,
		DurationMS:  rec.DurationMS,
		Status:      string(rec.Status),
		Error:       rec.Error,
	}

	if err := lake.Append(lakeCtx, record); err != nil {
		logger.ErrorContext(ctx, "datalake append dropped", "job_id", rec.JobID, "error", err)
		if metrics != nil {
			metrics.DatalakeFailures.Add(lakeCtx, 1)
		}
	}
}
