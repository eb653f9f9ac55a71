package handlers

import (
	"context"
	"io"
	"log/slog"
	"time"

	"botfleet/internal/datalake"
	"botfleet/internal/monitor"
	"botfleet/internal/operations"
	"botfleet/internal/store"
)

// mockJobAPI satisfies JobAPI with canned responses.
type mockJobAPI struct {
	populateJobs []store.Job
	populateErr  error
	listJobs     []store.Job
	listErr      error
	getJob       *store.Job
	getErr       error
	claimJob     *store.Job
	claimErr     error
	startErr     error
	completeErr  error
	failErr      error
	releaseErr   error
	jobCounts    map[store.JobStatus]int64
	botCounts    map[string]int64
	summaryErr   error

	lastStatus string
	lastLimit  int
	lastOffset int
}

func (m *mockJobAPI) Populate(ctx context.Context, batchSize int, operation string) ([]store.Job, error) {
	return m.populateJobs, m.populateErr
}

func (m *mockJobAPI) List(ctx context.Context, status string, limit, offset int) ([]store.Job, error) {
	m.lastStatus, m.lastLimit, m.lastOffset = status, limit, offset
	return m.listJobs, m.listErr
}

func (m *mockJobAPI) Get(ctx context.Context, id string) (*store.Job, error) {
	return m.getJob, m.getErr
}

func (m *mockJobAPI) Claim(ctx context.Context, botID string) (*store.Job, error) {
	return m.claimJob, m.claimErr
}

func (m *mockJobAPI) Start(ctx context.Context, jobID, botID string) error    { return m.startErr }
func (m *mockJobAPI) Complete(ctx context.Context, jobID, botID string, result, durationMS int64) error {
	return m.completeErr
}
func (m *mockJobAPI) Fail(ctx context.Context, jobID, botID, errMsg string, durationMS int64) error {
	return m.failErr
}
func (m *mockJobAPI) Release(ctx context.Context, jobID, reason string) error { return m.releaseErr }

func (m *mockJobAPI) Summary(ctx context.Context, downThreshold time.Duration) (map[store.JobStatus]int64, map[string]int64, error) {
	return m.jobCounts, m.botCounts, m.summaryErr
}

// mockBotAPI satisfies BotAPI with canned responses.
type mockBotAPI struct {
	registerBot *store.Bot
	registerErr error
	heartbeatErr error
	assignBot   *store.Bot
	assignErr   error
	deleteErr   error
	resetBot    *store.Bot
	resetErr    error
	listBots    []store.Bot
	listErr     error
	stats       *store.BotStats
	statsRecent []store.Result
	statsErr    error
}

func (m *mockBotAPI) Register(ctx context.Context, id string, assignedOperation *string) (*store.Bot, error) {
	return m.registerBot, m.registerErr
}

func (m *mockBotAPI) Heartbeat(ctx context.Context, id string) error { return m.heartbeatErr }

func (m *mockBotAPI) AssignOperation(ctx context.Context, id string, operation *string) (*store.Bot, error) {
	return m.assignBot, m.assignErr
}

func (m *mockBotAPI) SoftDelete(ctx context.Context, id string) error { return m.deleteErr }

func (m *mockBotAPI) Reset(ctx context.Context, id string) (*store.Bot, error) {
	return m.resetBot, m.resetErr
}

func (m *mockBotAPI) List(ctx context.Context, includeDeleted bool, downThreshold time.Duration) ([]store.Bot, error) {
	return m.listBots, m.listErr
}

func (m *mockBotAPI) Stats(ctx context.Context, id string, window time.Duration) (*store.BotStats, []store.Result, error) {
	return m.stats, m.statsRecent, m.statsErr
}

type mockCleaner struct {
	report  monitor.CleanupReport
	history []monitor.CleanupReport
	next    time.Time
}

func (m *mockCleaner) Clean(ctx context.Context, dryRun bool) monitor.CleanupReport {
	m.report.DryRun = dryRun
	return m.report
}
func (m *mockCleaner) History() []monitor.CleanupReport { return m.history }
func (m *mockCleaner) NextRun() time.Time               { return m.next }

type mockLake struct {
	stats  *datalake.Stats
	recent []datalake.Record
	err    error
}

func (m *mockLake) Stats(ctx context.Context) (*datalake.Stats, error) { return m.stats, m.err }

func (m *mockLake) Recent(ctx context.Context, limit int) ([]datalake.Record, error) {
	return m.recent, m.err
}

type mockPinger struct{ err error }

func (m *mockPinger) Ping(ctx context.Context) error { return m.err }

func newTestHandlers(jobs *mockJobAPI, bots *mockBotAPI) *Handlers {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(jobs, bots, operations.Load(), &mockCleaner{}, &mockLake{stats: &datalake.Stats{}}, &mockPinger{}, 2*time.Minute, logger)
}
