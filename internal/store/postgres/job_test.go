package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"botfleet/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return &Store{db: db}, mock
}

func jobRows(extra ...string) *sqlmock.Rows {
	cols := []string{"id", "a", "b", "operation", "status", "claimed_by", "created_at",
		"claimed_at", "started_at", "finished_at", "attempts", "error", "version"}
	return sqlmock.NewRows(append(cols, extra...))
}

func TestSelectPendingForClaim_SkipLocked(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ctx := context.Background()
	created := time.Now().UTC()
	op := "sum"

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs("sum").
		WillReturnRows(jobRows().AddRow(
			"J1", 2, 3, "sum", "pending", nil, created,
			nil, nil, nil, 0, nil, 0,
		))

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	job, err := s.SelectPendingForClaim(ctx, tx, &op)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if job == nil || job.ID != "J1" || job.Status != store.JobStatusPending {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.ClaimedBy != nil {
		t.Errorf("pending job has claimed_by set")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSelectPendingForClaim_Empty(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WillReturnRows(jobRows())

	tx, _ := s.BeginTx(ctx)
	job, err := s.SelectPendingForClaim(ctx, tx, nil)
	if err != nil {
		t.Fatalf("empty queue must not error: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job, got %+v", job)
	}
}

func TestMarkClaimed_LostRowIsError(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs("J1", "b1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, _ := s.BeginTx(ctx)
	if err := s.MarkClaimed(ctx, tx, "J1", "b1"); err == nil {
		t.Fatal("expected error when claim update matches no row")
	}
}

func TestListJobs_StatusPriorityOrdering(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ctx := context.Background()
	created := time.Now().UTC()

	// The ordering clause is the listing contract.
	mock.ExpectQuery(`ORDER BY CASE j\.status\s+WHEN 'pending' THEN 1\s+WHEN 'claimed' THEN 2\s+WHEN 'processing' THEN 3\s+WHEN 'succeeded' THEN 4\s+WHEN 'failed' THEN 5`).
		WithArgs(50, 0).
		WillReturnRows(jobRows("result", "duration_ms").
			AddRow("J1", 1, 1, "sum", "pending", nil, created, nil, nil, nil, 0, nil, 0, nil, nil).
			AddRow("J2", 2, 2, "sum", "succeeded", "b1", created, created, created, created, 0, nil, 3, 4, 100))

	jobs, err := s.ListJobs(ctx, nil, 50, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[1].Result == nil || *jobs[1].Result != 4 {
		t.Errorf("result join not scanned: %+v", jobs[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestListJobs_StatusFilter(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	status := store.JobStatusPending
	mock.ExpectQuery(`WHERE j\.status = \$3`).
		WithArgs(10, 0, status).
		WillReturnRows(jobRows("result", "duration_ms"))

	if _, err := s.ListJobs(context.Background(), &status, 10, 0); err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestReleaseToPending(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`SET status = 'pending'`).
		WithArgs("J1", "timeout-in-claimed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.ReleaseToPending(context.Background(), nil, "J1", "timeout-in-claimed")
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if !ok {
		t.Fatal("expected release to report a changed row")
	}
}

func TestReleaseToPending_TerminalJobNotMatched(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`SET status = 'pending'`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.ReleaseToPending(context.Background(), nil, "J1", "reason")
	if err != nil {
		t.Fatalf("release errored: %v", err)
	}
	if ok {
		t.Fatal("terminal job must not be released")
	}
}

func TestFindStuckClaimed(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	cutoff := time.Now().UTC().Add(-5 * time.Minute)
	claimed := cutoff.Add(-time.Minute)

	mock.ExpectQuery(`WHERE j\.status = 'claimed' AND j\.claimed_at < \$1`).
		WithArgs(cutoff, 10).
		WillReturnRows(jobRows().AddRow(
			"J1", 1, 1, "sum", "claimed", "b1", claimed.Add(-time.Minute),
			claimed, nil, nil, 0, nil, 1,
		))

	jobs, err := s.FindStuckClaimed(context.Background(), cutoff, 10)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ClaimedBy == nil || *jobs[0].ClaimedBy != "b1" {
		t.Fatalf("unexpected stuck jobs: %+v", jobs)
	}
}

func TestMapError_ConstraintCodes(t *testing.T) {
	tests := []struct {
		name     string
		in       error
		sentinel error
	}{
		{
			name:     "bot current job unique index",
			in:       &pq.Error{Code: "23505", Constraint: "bots_current_job_idx"},
			sentinel: store.ErrUniqueBotCurrentJob,
		},
		{
			name:     "active claimed_by unique index",
			in:       &pq.Error{Code: "23505", Constraint: "jobs_active_claimed_by_idx"},
			sentinel: store.ErrUniqueBotCurrentJob,
		},
		{
			name:     "pending consistency check",
			in:       &pq.Error{Code: "23514", Constraint: "job_state_consistency"},
			sentinel: store.ErrJobStateConsistency,
		},
		{
			name:     "serialization failure",
			in:       &pq.Error{Code: "40001"},
			sentinel: store.ErrSerialization,
		},
		{
			name:     "deadlock",
			in:       &pq.Error{Code: "40P01"},
			sentinel: store.ErrSerialization,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError(tt.in); !errors.Is(got, tt.sentinel) {
				t.Errorf("mapError(%v) = %v, want %v", tt.in, got, tt.sentinel)
			}
		})
	}

	// Unrelated errors pass through.
	plain := errors.New("boom")
	if got := mapError(plain); got != plain {
		t.Errorf("unrelated error rewritten: %v", got)
	}
}
