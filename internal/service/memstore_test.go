package service

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"botfleet/internal/store"
)

// memStore is an in-memory Store used to exercise the service state machine
// without a database. It mirrors the schema semantics closely enough for the
// lifecycle laws. It enforces no schema constraints; the postgres package
// tests the SQL text and constraint-error mapping with sqlmock.
type memStore struct {
	jobs    map[string]*store.Job
	bots    map[string]*store.Bot
	results map[string]*store.Result // keyed by job id

	now func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		jobs:    make(map[string]*store.Job),
		bots:    make(map[string]*store.Bot),
		results: make(map[string]*store.Result),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type memTx struct{}

func (memTx) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (memTx) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, nil
}
func (memTx) QueryRowContext(context.Context, string, ...interface{}) *sql.Row { return nil }
func (memTx) Commit() error                                                    { return nil }
func (memTx) Rollback() error                                                  { return nil }

func (m *memStore) BeginTx(ctx context.Context) (store.Tx, error) { return memTx{}, nil }
func (m *memStore) Ping(ctx context.Context) error                { return nil }

func copyJob(j *store.Job) *store.Job {
	cp := *j
	return &cp
}

func copyBot(b *store.Bot) *store.Bot {
	cp := *b
	return &cp
}

// --- JobStore ---

func (m *memStore) CreateJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *memStore) GetJobByID(ctx context.Context, id string) (*store.Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	out := copyJob(j)
	if r, ok := m.results[id]; ok {
		out.Result = r.Result
		out.DurationMS = &r.DurationMS
		if r.Error != nil {
			e := *r.Error
			out.Error = &e
		}
	}
	return out, nil
}

func (m *memStore) GetJobForUpdate(ctx context.Context, tx store.DBTransaction, id string) (*store.Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return copyJob(j), nil
}

var listPriority = map[store.JobStatus]int{
	store.JobStatusPending:    1,
	store.JobStatusClaimed:    2,
	store.JobStatusProcessing: 3,
	store.JobStatusSucceeded:  4,
	store.JobStatusFailed:     5,
}

func (m *memStore) ListJobs(ctx context.Context, status *store.JobStatus, limit, offset int) ([]store.Job, error) {
	var all []store.Job
	for _, j := range m.jobs {
		if status != nil && j.Status != *status {
			continue
		}
		all = append(all, *copyJob(j))
	}
	sort.Slice(all, func(i, k int) bool {
		pi, pk := listPriority[all[i].Status], listPriority[all[k].Status]
		if pi != pk {
			return pi < pk
		}
		return all[i].CreatedAt.After(all[k].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memStore) CountJobs(ctx context.Context) (map[store.JobStatus]int64, error) {
	counts := make(map[store.JobStatus]int64)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (m *memStore) CountPending(ctx context.Context) (int64, error) {
	var n int64
	for _, j := range m.jobs {
		if j.Status == store.JobStatusPending {
			n++
		}
	}
	return n, nil
}

func (m *memStore) SelectPendingForClaim(ctx context.Context, tx store.DBTransaction, operation *string) (*store.Job, error) {
	var candidate *store.Job
	for _, j := range m.jobs {
		if j.Status != store.JobStatusPending {
			continue
		}
		if operation != nil && j.Operation != *operation {
			continue
		}
		if candidate == nil ||
			j.CreatedAt.Before(candidate.CreatedAt) ||
			(j.CreatedAt.Equal(candidate.CreatedAt) && j.ID < candidate.ID) {
			candidate = j
		}
	}
	if candidate == nil {
		return nil, nil
	}
	return copyJob(candidate), nil
}

func (m *memStore) MarkClaimed(ctx context.Context, tx store.DBTransaction, jobID, botID string) error {
	j := m.jobs[jobID]
	now := m.now()
	j.Status = store.JobStatusClaimed
	j.ClaimedBy = &botID
	j.ClaimedAt = &now
	j.Version++
	return nil
}

func (m *memStore) MarkProcessing(ctx context.Context, tx store.DBTransaction, jobID, botID string) (bool, error) {
	j, ok := m.jobs[jobID]
	if !ok || j.Status != store.JobStatusClaimed || j.ClaimedBy == nil || *j.ClaimedBy != botID {
		return false, nil
	}
	now := m.now()
	j.Status = store.JobStatusProcessing
	j.StartedAt = &now
	j.Version++
	return true, nil
}

func (m *memStore) MarkSucceeded(ctx context.Context, tx store.DBTransaction, jobID, botID string) (bool, error) {
	j, ok := m.jobs[jobID]
	if !ok || j.Status != store.JobStatusProcessing || j.ClaimedBy == nil || *j.ClaimedBy != botID {
		return false, nil
	}
	now := m.now()
	j.Status = store.JobStatusSucceeded
	j.FinishedAt = &now
	j.Version++
	return true, nil
}

func (m *memStore) MarkFailed(ctx context.Context, tx store.DBTransaction, jobID, botID, errMsg string) (bool, error) {
	j, ok := m.jobs[jobID]
	if !ok || j.Status != store.JobStatusProcessing || j.ClaimedBy == nil || *j.ClaimedBy != botID {
		return false, nil
	}
	now := m.now()
	j.Status = store.JobStatusFailed
	j.FinishedAt = &now
	j.Attempts++
	j.Error = &errMsg
	j.Version++
	return true, nil
}

func (m *memStore) ReleaseToPending(ctx context.Context, tx store.DBTransaction, jobID, reason string) (bool, error) {
	j, ok := m.jobs[jobID]
	if !ok || (j.Status != store.JobStatusClaimed && j.Status != store.JobStatusProcessing) {
		return false, nil
	}
	j.Status = store.JobStatusPending
	j.ClaimedBy = nil
	j.ClaimedAt = nil
	j.StartedAt = nil
	j.Attempts++
	j.Error = &reason
	j.Version++
	return true, nil
}

func (m *memStore) FindStuckClaimed(ctx context.Context, cutoff time.Time, limit int) ([]store.Job, error) {
	return m.findStuck(store.JobStatusClaimed, cutoff, limit), nil
}

func (m *memStore) FindStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]store.Job, error) {
	return m.findStuck(store.JobStatusProcessing, cutoff, limit), nil
}

func (m *memStore) findStuck(status store.JobStatus, cutoff time.Time, limit int) []store.Job {
	var out []store.Job
	for _, j := range m.jobs {
		if j.Status != status {
			continue
		}
		ts := j.ClaimedAt
		if status == store.JobStatusProcessing {
			ts = j.StartedAt
		}
		if ts != nil && ts.Before(cutoff) {
			out = append(out, *copyJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// --- BotStore ---

func (m *memStore) UpsertBot(ctx context.Context, tx store.DBTransaction, id string, assignedOperation *string) (*store.Bot, error) {
	now := m.now()
	if b, ok := m.bots[id]; ok {
		b.Status = store.BotStatusIdle
		b.LastHeartbeatAt = now
		b.DeletedAt = nil
		b.HealthStatus = store.BotHealthNormal
		b.StuckJobID = nil
		if assignedOperation != nil {
			op := *assignedOperation
			b.AssignedOperation = &op
		}
		return copyBot(b), nil
	}

	b := &store.Bot{
		ID:              id,
		Status:          store.BotStatusIdle,
		HealthStatus:    store.BotHealthNormal,
		LastHeartbeatAt: now,
		CreatedAt:       now,
	}
	if assignedOperation != nil {
		op := *assignedOperation
		b.AssignedOperation = &op
	}
	m.bots[id] = b
	return copyBot(b), nil
}

func (m *memStore) GetBotByID(ctx context.Context, id string, includeDeleted bool) (*store.Bot, error) {
	b, ok := m.bots[id]
	if !ok {
		return nil, nil
	}
	if b.DeletedAt != nil && !includeDeleted {
		return nil, nil
	}
	return copyBot(b), nil
}

func (m *memStore) GetBotForUpdate(ctx context.Context, tx store.DBTransaction, id string) (*store.Bot, error) {
	b, ok := m.bots[id]
	if !ok || b.DeletedAt != nil {
		return nil, nil
	}
	return copyBot(b), nil
}

func (m *memStore) ListBots(ctx context.Context, includeDeleted bool, downThreshold time.Duration) ([]store.Bot, error) {
	var out []store.Bot
	for _, b := range m.bots {
		if b.DeletedAt != nil && !includeDeleted {
			continue
		}
		cp := copyBot(b)
		switch {
		case b.DeletedAt != nil:
			cp.ComputedStatus = "deleted"
		case m.now().Sub(b.LastHeartbeatAt) > downThreshold:
			cp.ComputedStatus = "down"
		default:
			cp.ComputedStatus = string(b.Status)
		}
		out = append(out, *cp)
	}
	return out, nil
}

func (m *memStore) Heartbeat(ctx context.Context, id string) (bool, error) {
	b, ok := m.bots[id]
	if !ok || b.DeletedAt != nil {
		return false, nil
	}
	b.LastHeartbeatAt = m.now()
	return true, nil
}

func (m *memStore) SetCurrentJob(ctx context.Context, tx store.DBTransaction, botID string, jobID *string, status store.BotStatus) error {
	b := m.bots[botID]
	b.CurrentJobID = jobID
	b.Status = status
	return nil
}

func (m *memStore) ClearCurrentJob(ctx context.Context, tx store.DBTransaction, botID, jobID string) error {
	b, ok := m.bots[botID]
	if !ok || b.CurrentJobID == nil || *b.CurrentJobID != jobID {
		return nil
	}
	b.CurrentJobID = nil
	b.Status = store.BotStatusIdle
	return nil
}

func (m *memStore) SetAssignedOperation(ctx context.Context, tx store.DBTransaction, botID string, operation *string) (bool, error) {
	b, ok := m.bots[botID]
	if !ok || b.DeletedAt != nil {
		return false, nil
	}
	b.AssignedOperation = operation
	return true, nil
}

func (m *memStore) SoftDelete(ctx context.Context, tx store.DBTransaction, botID string) (bool, error) {
	b, ok := m.bots[botID]
	if !ok || b.DeletedAt != nil {
		return false, nil
	}
	now := m.now()
	b.DeletedAt = &now
	b.CurrentJobID = nil
	b.Status = store.BotStatusDown
	return true, nil
}

func (m *memStore) ResetBot(ctx context.Context, tx store.DBTransaction, botID string) (bool, error) {
	b, ok := m.bots[botID]
	if !ok || b.DeletedAt != nil {
		return false, nil
	}
	b.CurrentJobID = nil
	b.Status = store.BotStatusIdle
	b.HealthStatus = store.BotHealthNormal
	b.StuckJobID = nil
	return true, nil
}

func (m *memStore) MarkPotentiallyStuck(ctx context.Context, tx store.DBTransaction, botID, jobID string, heartbeatWithin time.Duration) error {
	b, ok := m.bots[botID]
	if !ok || b.DeletedAt != nil {
		return nil
	}
	// A silent bot is dead, not stuck.
	if m.now().Sub(b.LastHeartbeatAt) > heartbeatWithin {
		return nil
	}
	now := m.now()
	b.HealthStatus = store.BotHealthPotentiallyStuck
	b.StuckJobID = &jobID
	b.HealthCheckedAt = &now
	return nil
}

func (m *memStore) ClearRecoveredStuckFlags(ctx context.Context, tx store.DBTransaction, cutoff time.Time) (int64, error) {
	var n int64
	for _, b := range m.bots {
		if b.HealthStatus != store.BotHealthPotentiallyStuck {
			continue
		}
		stillStuck := false
		if b.CurrentJobID != nil {
			if j, ok := m.jobs[*b.CurrentJobID]; ok &&
				j.Status == store.JobStatusProcessing &&
				j.StartedAt != nil && j.StartedAt.Before(cutoff) {
				stillStuck = true
			}
		}
		if !stillStuck {
			b.HealthStatus = store.BotHealthNormal
			b.StuckJobID = nil
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountBots(ctx context.Context, downThreshold time.Duration) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, b := range m.bots {
		switch {
		case b.DeletedAt != nil:
			counts["deleted"]++
		case m.now().Sub(b.LastHeartbeatAt) > downThreshold:
			counts["down"]++
		default:
			counts[string(b.Status)]++
		}
	}
	return counts, nil
}

func (m *memStore) DeleteExpired(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	var n int64
	for id, b := range m.bots {
		if b.DeletedAt != nil && b.DeletedAt.Before(cutoff) {
			n++
			if !dryRun {
				delete(m.bots, id)
			}
		}
	}
	return n, nil
}

// --- ResultStore ---

func (m *memStore) CreateResult(ctx context.Context, tx store.DBTransaction, result *store.Result) error {
	cp := *result
	m.results[result.JobID] = &cp
	return nil
}

func (m *memStore) BotStats(ctx context.Context, botID string, window time.Duration) (*store.BotStats, error) {
	stats := &store.BotStats{}
	for _, r := range m.results {
		if r.ProcessedBy != botID {
			continue
		}
		stats.TotalJobs++
		if r.Status == store.ResultStatusSucceeded {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}
	return stats, nil
}

func (m *memStore) RecentByBot(ctx context.Context, botID string, limit int) ([]store.Result, error) {
	var out []store.Result
	for _, r := range m.results {
		if r.ProcessedBy == botID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) PurgeOrphaned(ctx context.Context, dryRun bool) (int64, error) {
	var n int64
	for jobID, r := range m.results {
		if _, ok := m.bots[r.ProcessedBy]; !ok {
			n++
			if !dryRun {
				delete(m.results, jobID)
			}
		}
	}
	return n, nil
}
