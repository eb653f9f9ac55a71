package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"botfleet/internal/store"
)

// CreateResult inserts an immutable terminal-attempt record. The unique index
// on job_id guarantees at most one result per job.
func (s *Store) CreateResult(ctx context.Context, tx store.DBTransaction, result *store.Result) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		INSERT INTO results (id, job_id, a, b, operation, result,
			processed_by, processed_at, duration_ms, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, result.ID, result.JobID, result.A, result.B, result.Operation, result.Result,
		result.ProcessedBy, result.ProcessedAt, result.DurationMS, result.Status, result.Error)
	if err != nil {
		return fmt.Errorf("failed to create result for job %s: %w", result.JobID, mapError(err))
	}

	return nil
}

// BotStats aggregates a bot's results newer than the window.
func (s *Store) BotStats(ctx context.Context, botID string, window time.Duration) (*store.BotStats, error) {
	var stats store.BotStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(duration_ms), 0),
		       COALESCE(MIN(duration_ms), 0),
		       COALESCE(MAX(duration_ms), 0)
		FROM results
		WHERE processed_by = $1
		  AND processed_at > NOW() - make_interval(secs => $2)
	`, botID, window.Seconds()).Scan(
		&stats.TotalJobs, &stats.Succeeded, &stats.Failed,
		&stats.AvgDurationMS, &stats.MinDurationMS, &stats.MaxDurationMS,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats for bot %s: %w", botID, err)
	}

	return &stats, nil
}

// RecentByBot returns a bot's most recent results, newest first.
func (s *Store) RecentByBot(ctx context.Context, botID string, limit int) ([]store.Result, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, a, b, operation, result,
		       processed_by, processed_at, duration_ms, status, error
		FROM results
		WHERE processed_by = $1
		ORDER BY processed_at DESC
		LIMIT $2
	`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list results for bot %s: %w", botID, err)
	}
	defer rows.Close()

	var results []store.Result
	for rows.Next() {
		var (
			r       store.Result
			value   sql.NullInt64
			errText sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.JobID, &r.A, &r.B, &r.Operation, &value,
			&r.ProcessedBy, &r.ProcessedAt, &r.DurationMS, &r.Status, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if value.Valid {
			r.Result = &value.Int64
		}
		if errText.Valid {
			r.Error = &errText.String
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// PurgeOrphaned deletes results whose processing bot row no longer exists.
func (s *Store) PurgeOrphaned(ctx context.Context, dryRun bool) (int64, error) {
	if dryRun {
		var count int64
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM results r
			WHERE NOT EXISTS (SELECT 1 FROM bots b WHERE b.id = r.processed_by)
		`).Scan(&count)
		if err != nil {
			return 0, fmt.Errorf("failed to count orphaned results: %w", err)
		}
		return count, nil
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM results r
		WHERE NOT EXISTS (SELECT 1 FROM bots b WHERE b.id = r.processed_by)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge orphaned results: %w", err)
	}

	return res.RowsAffected()
}
