// Package postgres implements the store interfaces using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"botfleet/internal/store"

	"github.com/lib/pq"
)

// Store provides PostgreSQL-backed implementations of all store interfaces.
type Store struct {
	db *sql.DB
}

// PoolConfig bounds the connection pool. A claim that cannot acquire a
// connection within the caller's deadline fails fast instead of queueing.
type PoolConfig struct {
	MaxOpenConns int
	MaxIdleConns int

	// PingTimeout bounds the startup connectivity check.
	PingTimeout time.Duration
}

// New opens a bounded connection pool and verifies connectivity.
func New(ctx context.Context, databaseURL string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingTimeout := pool.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying pool for migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks database connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BeginTx starts a transaction. Read-committed is sufficient for the claim
// protocol because candidate selection takes row locks with SKIP LOCKED.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

func (s *Store) getExecutor(tx store.DBTransaction) store.DBTransaction {
	if tx != nil {
		return tx
	}
	return s.db
}

// mapError translates postgres constraint violations that encode business
// rules into the store sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case "23505": // unique_violation
		switch pqErr.Constraint {
		case "bots_current_job_idx", "jobs_active_claimed_by_idx":
			return fmt.Errorf("%w: %s", store.ErrUniqueBotCurrentJob, pqErr.Constraint)
		}
	case "23514": // check_violation
		if pqErr.Constraint == "job_state_consistency" {
			return fmt.Errorf("%w", store.ErrJobStateConsistency)
		}
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return fmt.Errorf("%w: %s", store.ErrSerialization, pqErr.Code)
	}

	return err
}
