package store

import "errors"

// Sentinel errors surfaced by store implementations when a schema constraint
// encoding a business rule fires. The service layer maps these onto the
// external conflict codes.
var (
	// ErrUniqueBotCurrentJob fires when a second active job would be bound to
	// the same bot, on either side of the job/bot reference.
	ErrUniqueBotCurrentJob = errors.New("bot is already bound to an active job")

	// ErrJobStateConsistency fires when a write would leave a job violating
	// pending <=> claimed_by IS NULL.
	ErrJobStateConsistency = errors.New("job state violates pending/claimed_by consistency")

	// ErrSerialization fires on transaction serialization failures and
	// deadlocks; callers should retry with backoff.
	ErrSerialization = errors.New("transaction serialization failure")
)
