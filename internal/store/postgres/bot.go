package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"botfleet/internal/store"
)

const botCols = `b.id, b.status, b.current_job_id, b.assigned_operation, b.health_status,
	b.stuck_job_id, b.health_checked_at, b.last_heartbeat_at, b.created_at, b.deleted_at`

// computedStatus folds soft deletion and heartbeat staleness into the stored
// status. The threshold arrives as seconds in the query args.
const computedStatus = `CASE
		WHEN b.deleted_at IS NOT NULL THEN 'deleted'
		WHEN b.last_heartbeat_at < NOW() - make_interval(secs => %s) THEN 'down'
		ELSE b.status
	END`

func scanBot(row interface {
	Scan(dest ...interface{}) error
}, withComputed bool) (*store.Bot, error) {
	var (
		b               store.Bot
		currentJobID    sql.NullString
		assignedOp      sql.NullString
		stuckJobID      sql.NullString
		healthCheckedAt sql.NullTime
		deletedAt       sql.NullTime
	)

	dest := []interface{}{
		&b.ID, &b.Status, &currentJobID, &assignedOp, &b.HealthStatus,
		&stuckJobID, &healthCheckedAt, &b.LastHeartbeatAt, &b.CreatedAt, &deletedAt,
	}
	if withComputed {
		dest = append(dest, &b.ComputedStatus)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if currentJobID.Valid {
		b.CurrentJobID = &currentJobID.String
	}
	if assignedOp.Valid {
		b.AssignedOperation = &assignedOp.String
	}
	if stuckJobID.Valid {
		b.StuckJobID = &stuckJobID.String
	}
	if healthCheckedAt.Valid {
		b.HealthCheckedAt = &healthCheckedAt.Time
	}
	if deletedAt.Valid {
		b.DeletedAt = &deletedAt.Time
	}

	return &b, nil
}

// UpsertBot registers a bot or revives a soft-deleted record with the same id.
// An existing operation pin survives revival unless the caller supplies a new
// one.
func (s *Store) UpsertBot(ctx context.Context, tx store.DBTransaction, id string, assignedOperation *string) (*store.Bot, error) {
	executor := s.getExecutor(tx)

	row := executor.QueryRowContext(ctx, `
		INSERT INTO bots (id, status, assigned_operation, last_heartbeat_at, created_at)
		VALUES ($1, 'idle', $2, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = 'idle',
			last_heartbeat_at = NOW(),
			deleted_at = NULL,
			health_status = 'normal',
			stuck_job_id = NULL,
			assigned_operation = COALESCE($2, bots.assigned_operation)
		RETURNING `+stripAlias(botCols),
		id, assignedOperation)

	bot, err := scanBot(row, false)
	if err != nil {
		return nil, fmt.Errorf("failed to register bot %s: %w", id, mapError(err))
	}

	return bot, nil
}

// GetBotByID returns a bot, or nil when absent or (unless includeDeleted)
// soft-deleted.
func (s *Store) GetBotByID(ctx context.Context, id string, includeDeleted bool) (*store.Bot, error) {
	query := `SELECT ` + botCols + ` FROM bots b WHERE b.id = $1`
	if !includeDeleted {
		query += ` AND b.deleted_at IS NULL`
	}

	row := s.db.QueryRowContext(ctx, query, id)
	bot, err := scanBot(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot %s: %w", id, err)
	}

	return bot, nil
}

// GetBotForUpdate locks a live bot row inside tx. Claim serializes on this
// lock per bot, so a bot cannot race itself into two jobs.
func (s *Store) GetBotForUpdate(ctx context.Context, tx store.DBTransaction, id string) (*store.Bot, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+botCols+`
		FROM bots b
		WHERE b.id = $1 AND b.deleted_at IS NULL
		FOR UPDATE
	`, id)

	bot, err := scanBot(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock bot %s: %w", id, mapError(err))
	}

	return bot, nil
}

// ListBots returns bots with computed_status, live bots first, most recently
// seen first.
func (s *Store) ListBots(ctx context.Context, includeDeleted bool, downThreshold time.Duration) ([]store.Bot, error) {
	where := ""
	if !includeDeleted {
		where = "WHERE b.deleted_at IS NULL"
	}

	query := fmt.Sprintf(`
		SELECT `+botCols+`, `+computedStatus+`
		FROM bots b
		%s
		ORDER BY
			CASE WHEN b.deleted_at IS NULL THEN 0 ELSE 1 END,
			b.last_heartbeat_at DESC NULLS LAST,
			b.created_at DESC
	`, "$1", where)

	rows, err := s.db.QueryContext(ctx, query, downThreshold.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	defer rows.Close()

	var bots []store.Bot
	for rows.Next() {
		bot, err := scanBot(rows, true)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		bots = append(bots, *bot)
	}

	return bots, rows.Err()
}

// Heartbeat stamps last_heartbeat_at for a live bot.
func (s *Store) Heartbeat(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bots
		SET last_heartbeat_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to update heartbeat for %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// SetCurrentJob updates the bot's denormalized job pointer and status.
func (s *Store) SetCurrentJob(ctx context.Context, tx store.DBTransaction, botID string, jobID *string, status store.BotStatus) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		UPDATE bots
		SET current_job_id = $2, status = $3
		WHERE id = $1
	`, botID, jobID, status)
	if err != nil {
		return fmt.Errorf("failed to bind job to bot %s: %w", botID, mapError(err))
	}

	return nil
}

// ClearCurrentJob unbinds jobID from the bot. The current_job_id guard makes
// the unbind idempotent and safe against a bot that already claimed again.
func (s *Store) ClearCurrentJob(ctx context.Context, tx store.DBTransaction, botID, jobID string) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		UPDATE bots
		SET current_job_id = NULL, status = 'idle'
		WHERE id = $1 AND current_job_id = $2
	`, botID, jobID)
	if err != nil {
		return fmt.Errorf("failed to unbind job from bot %s: %w", botID, mapError(err))
	}

	return nil
}

// SetAssignedOperation pins (or with nil unpins) the bot's operation.
func (s *Store) SetAssignedOperation(ctx context.Context, tx store.DBTransaction, botID string, operation *string) (bool, error) {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE bots
		SET assigned_operation = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, botID, operation)
	if err != nil {
		return false, fmt.Errorf("failed to assign operation to bot %s: %w", botID, err)
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// SoftDelete retires a bot. The row survives until the retention cleaner
// removes it.
func (s *Store) SoftDelete(ctx context.Context, tx store.DBTransaction, botID string) (bool, error) {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE bots
		SET deleted_at = NOW(), current_job_id = NULL, status = 'down'
		WHERE id = $1 AND deleted_at IS NULL
	`, botID)
	if err != nil {
		return false, fmt.Errorf("failed to soft-delete bot %s: %w", botID, err)
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// ResetBot clears the job binding, stuck flags, and returns the bot to idle.
func (s *Store) ResetBot(ctx context.Context, tx store.DBTransaction, botID string) (bool, error) {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE bots
		SET current_job_id = NULL, status = 'idle',
		    health_status = 'normal', stuck_job_id = NULL
		WHERE id = $1 AND deleted_at IS NULL
	`, botID)
	if err != nil {
		return false, fmt.Errorf("failed to reset bot %s: %w", botID, err)
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkPotentiallyStuck flags a bot whose processing job exceeded the timeout
// while the bot kept heartbeating within heartbeatWithin. A silent bot is
// not matched; its job is terminal-failed by the processing monitor instead.
func (s *Store) MarkPotentiallyStuck(ctx context.Context, tx store.DBTransaction, botID, jobID string, heartbeatWithin time.Duration) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		UPDATE bots
		SET health_status = 'potentially_stuck', stuck_job_id = $2, health_checked_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		  AND last_heartbeat_at > NOW() - make_interval(secs => $3)
	`, botID, jobID, heartbeatWithin.Seconds())
	if err != nil {
		return fmt.Errorf("failed to flag bot %s as potentially stuck: %w", botID, err)
	}

	return nil
}

// ClearRecoveredStuckFlags resets health for flagged bots no longer stuck on
// a processing job started before cutoff.
func (s *Store) ClearRecoveredStuckFlags(ctx context.Context, tx store.DBTransaction, cutoff time.Time) (int64, error) {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE bots b
		SET health_status = 'normal', stuck_job_id = NULL, health_checked_at = NOW()
		WHERE b.health_status = 'potentially_stuck'
		  AND (
			b.current_job_id IS NULL
			OR NOT EXISTS (
				SELECT 1 FROM jobs j
				WHERE j.id = b.current_job_id
				  AND j.status = 'processing'
				  AND j.started_at < $1
			)
		  )
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clear stuck flags: %w", err)
	}

	return res.RowsAffected()
}

// CountBots returns counts keyed by computed status.
func (s *Store) CountBots(ctx context.Context, downThreshold time.Duration) (map[string]int64, error) {
	query := fmt.Sprintf(`
		SELECT `+computedStatus+` AS computed, COUNT(*)
		FROM bots b
		GROUP BY computed
	`, "$1")

	rows, err := s.db.QueryContext(ctx, query, downThreshold.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to count bots: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan bot count: %w", err)
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

// DeleteExpired physically removes bots soft-deleted before cutoff.
func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	if dryRun {
		var count int64
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM bots
			WHERE deleted_at IS NOT NULL AND deleted_at < $1
		`, cutoff).Scan(&count)
		if err != nil {
			return 0, fmt.Errorf("failed to count expired bots: %w", err)
		}
		return count, nil
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM bots
		WHERE deleted_at IS NOT NULL AND deleted_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired bots: %w", err)
	}

	return res.RowsAffected()
}

// stripAlias rewrites the shared column list for RETURNING clauses, which
// carry no table alias.
func stripAlias(cols string) string {
	return strings.ReplaceAll(cols, "b.", "")
}
