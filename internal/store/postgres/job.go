package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"botfleet/internal/store"
)

const jobCols = `j.id, j.a, j.b, j.operation, j.status, j.claimed_by, j.created_at,
	j.claimed_at, j.started_at, j.finished_at, j.attempts, j.error, j.version`

// statusPriority orders listings so operators see actionable jobs first:
// pending < claimed < processing < succeeded < failed. The ordering is part
// of the listing contract and is never re-sorted by consumers.
const statusPriority = `CASE j.status
		WHEN 'pending' THEN 1
		WHEN 'claimed' THEN 2
		WHEN 'processing' THEN 3
		WHEN 'succeeded' THEN 4
		WHEN 'failed' THEN 5
		ELSE 6
	END`

func scanJob(row interface {
	Scan(dest ...interface{}) error
}, withResult bool) (*store.Job, error) {
	var (
		j          store.Job
		claimedBy  sql.NullString
		claimedAt  sql.NullTime
		startedAt  sql.NullTime
		finishedAt sql.NullTime
		errText    sql.NullString
		result     sql.NullInt64
		durationMS sql.NullInt64
	)

	dest := []interface{}{
		&j.ID, &j.A, &j.B, &j.Operation, &j.Status, &claimedBy, &j.CreatedAt,
		&claimedAt, &startedAt, &finishedAt, &j.Attempts, &errText, &j.Version,
	}
	if withResult {
		dest = append(dest, &result, &durationMS)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if claimedBy.Valid {
		j.ClaimedBy = &claimedBy.String
	}
	if claimedAt.Valid {
		j.ClaimedAt = &claimedAt.Time
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	if errText.Valid {
		j.Error = &errText.String
	}
	if result.Valid {
		j.Result = &result.Int64
	}
	if durationMS.Valid {
		j.DurationMS = &durationMS.Int64
	}

	return &j, nil
}

// CreateJob inserts a new pending job row.
func (s *Store) CreateJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		INSERT INTO jobs (id, a, b, operation, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
	`, job.ID, job.A, job.B, job.Operation, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, mapError(err))
	}

	return nil
}

// GetJobByID returns a job with its result fields joined.
func (s *Store) GetJobByID(ctx context.Context, id string) (*store.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobCols+`, r.result, r.duration_ms
		FROM jobs j
		LEFT JOIN results r ON r.job_id = j.id
		WHERE j.id = $1
	`, id)

	job, err := scanJob(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	return job, nil
}

// GetJobForUpdate locks a job row inside tx.
func (s *Store) GetJobForUpdate(ctx context.Context, tx store.DBTransaction, id string) (*store.Job, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+jobCols+`
		FROM jobs j
		WHERE j.id = $1
		FOR UPDATE
	`, id)

	job, err := scanJob(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock job %s: %w", id, mapError(err))
	}

	return job, nil
}

// ListJobs returns jobs in status-priority order then created_at DESC.
func (s *Store) ListJobs(ctx context.Context, status *store.JobStatus, limit, offset int) ([]store.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + jobCols + `, r.result, r.duration_ms
		FROM jobs j
		LEFT JOIN results r ON r.job_id = j.id
	`
	args := []interface{}{limit, offset}
	if status != nil {
		query += ` WHERE j.status = $3`
		args = append(args, *status)
	}
	query += `
		ORDER BY ` + statusPriority + `, j.created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows, true)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// CountJobs returns per-status job counts.
func (s *Store) CountJobs(ctx context.Context) (map[store.JobStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM jobs GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[store.JobStatus]int64)
	for rows.Next() {
		var status store.JobStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

// CountPending returns the pending queue depth.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs WHERE status = 'pending'
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}

// SelectPendingForClaim locks the oldest matching pending job with
// FOR UPDATE SKIP LOCKED. A claimer that finds its candidate locked by a
// concurrent transaction steps over it instead of blocking, so one stuck row
// never serializes the whole fleet. Ties break on created_at then id.
func (s *Store) SelectPendingForClaim(ctx context.Context, tx store.DBTransaction, operation *string) (*store.Job, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+jobCols+`
		FROM jobs j
		WHERE j.status = 'pending'
		  AND ($1::text IS NULL OR j.operation = $1)
		ORDER BY j.created_at ASC, j.id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, operation)

	job, err := scanJob(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select pending job: %w", mapError(err))
	}

	return job, nil
}

// MarkClaimed transitions a locked pending job to claimed.
func (s *Store) MarkClaimed(ctx context.Context, tx store.DBTransaction, jobID, botID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'claimed', claimed_by = $2, claimed_at = NOW(), version = version + 1
		WHERE id = $1 AND status = 'pending'
	`, jobID, botID)
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", jobID, mapError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// The candidate was locked by us, so this only fires on a bug.
		return fmt.Errorf("claim lost job %s despite row lock", jobID)
	}

	return nil
}

// MarkProcessing transitions claimed -> processing for the claiming bot.
func (s *Store) MarkProcessing(ctx context.Context, tx store.DBTransaction, jobID, botID string) (bool, error) {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'processing', started_at = NOW(), version = version + 1
		WHERE id = $1 AND claimed_by = $2 AND status = 'claimed'
	`, jobID, botID)
	if err != nil {
		return false, fmt.Errorf("failed to start job %s: %w", jobID, mapError(err))
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkSucceeded transitions processing -> succeeded for the claiming bot.
func (s *Store) MarkSucceeded(ctx context.Context, tx store.DBTransaction, jobID, botID string) (bool, error) {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'succeeded', finished_at = NOW(), version = version + 1
		WHERE id = $1 AND claimed_by = $2 AND status = 'processing'
	`, jobID, botID)
	if err != nil {
		return false, fmt.Errorf("failed to complete job %s: %w", jobID, mapError(err))
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkFailed transitions processing -> failed for the claiming bot.
func (s *Store) MarkFailed(ctx context.Context, tx store.DBTransaction, jobID, botID, errMsg string) (bool, error) {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', finished_at = NOW(), attempts = attempts + 1,
		    error = $3, version = version + 1
		WHERE id = $1 AND claimed_by = $2 AND status = 'processing'
	`, jobID, botID, errMsg)
	if err != nil {
		return false, fmt.Errorf("failed to fail job %s: %w", jobID, mapError(err))
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// ReleaseToPending forces a non-terminal claimed/processing job back to
// pending, clearing the claim fields and recording the reason.
func (s *Store) ReleaseToPending(ctx context.Context, tx store.DBTransaction, jobID, reason string) (bool, error) {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL,
		    started_at = NULL, attempts = attempts + 1, error = $2,
		    version = version + 1
		WHERE id = $1 AND status IN ('claimed', 'processing')
	`, jobID, reason)
	if err != nil {
		return false, fmt.Errorf("failed to release job %s: %w", jobID, mapError(err))
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// FindStuckClaimed returns jobs claimed before cutoff, oldest first.
func (s *Store) FindStuckClaimed(ctx context.Context, cutoff time.Time, limit int) ([]store.Job, error) {
	return s.findStuck(ctx, `
		SELECT `+jobCols+`
		FROM jobs j
		WHERE j.status = 'claimed' AND j.claimed_at < $1
		ORDER BY j.claimed_at ASC
		LIMIT $2
	`, cutoff, limit)
}

// FindStuckProcessing returns jobs started before cutoff, oldest first.
func (s *Store) FindStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]store.Job, error) {
	return s.findStuck(ctx, `
		SELECT `+jobCols+`
		FROM jobs j
		WHERE j.status = 'processing' AND j.started_at < $1
		ORDER BY j.started_at ASC
		LIMIT $2
	`, cutoff, limit)
}

func (s *Store) findStuck(ctx context.Context, query string, cutoff time.Time, limit int) ([]store.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stuck job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}
