// Package bot contains the worker-side logic: claim, execute, report.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"botfleet/internal/operations"
	"botfleet/pkg/api"
)

// Config holds configuration for the bot agent.
type Config struct {
	ID                string
	CoordinatorURL    string
	AssignedOperation string        // empty means dynamic pinning on first claim
	PollInterval      time.Duration // base poll interval when the queue is empty
	MaxBackoff        time.Duration // cap for the empty-queue backoff
	HeartbeatInterval time.Duration
}

// Agent is the worker loop: poll for a claim, execute the operation locally,
// report the outcome. All state lives in the coordinator; the agent only
// holds its id.
type Agent struct {
	config     Config
	registry   *operations.Registry
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a new bot agent.
func New(config Config, registry *operations.Registry, logger *slog.Logger) *Agent {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	config.CoordinatorURL = strings.TrimRight(config.CoordinatorURL, "/")

	return &Agent{
		config:   config,
		registry: registry,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Run registers the bot and then blocks in the claim loop until ctx is
// cancelled. The empty-queue backoff doubles up to MaxBackoff and resets as
// soon as work is found.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	a.logger.Info("bot registered", "bot_id", a.config.ID)

	go a.heartbeatLoop(ctx)

	backoff := a.config.PollInterval
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		job, err := a.claim(ctx)
		if err != nil {
			a.logger.Error("claim failed", "error", err)
			backoff = min(backoff*2, a.config.MaxBackoff)
			continue
		}
		if job == nil {
			backoff = min(backoff*2, a.config.MaxBackoff)
			continue
		}

		backoff = a.config.PollInterval
		a.process(ctx, job)
	}
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.post(ctx, "/bots/heartbeat", api.HeartbeatRequest{ID: a.config.ID}, nil); err != nil {
				a.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (a *Agent) register(ctx context.Context) error {
	req := api.RegisterRequest{
		ID:                a.config.ID,
		AssignedOperation: a.config.AssignedOperation,
	}
	var bot api.BotResponse
	return a.post(ctx, "/bots/register", req, &bot)
}

func (a *Agent) claim(ctx context.Context) (*api.JobResponse, error) {
	var job *api.JobResponse
	err := a.post(ctx, "/jobs/claim", api.ClaimRequest{BotID: a.config.ID}, &job)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// process runs one claimed job to a terminal report. Execution errors are
// reported as failures, never swallowed; the coordinator owns the record.
func (a *Agent) process(ctx context.Context, job *api.JobResponse) {
	a.logger.Info("processing job", "job_id", job.ID, "operation", job.Operation)

	startPath := fmt.Sprintf("/jobs/%s/start", job.ID)
	if err := a.post(ctx, startPath, api.StartRequest{BotID: a.config.ID}, nil); err != nil {
		a.logger.Error("start failed", "job_id", job.ID, "error", err)
		return
	}

	started := time.Now()
	result, execErr := a.registry.Execute(job.Operation, job.A, job.B)
	durationMS := time.Since(started).Milliseconds()

	if execErr != nil {
		failPath := fmt.Sprintf("/jobs/%s/fail", job.ID)
		req := api.FailRequest{BotID: a.config.ID, Error: execErr.Error(), DurationMS: durationMS}
		if err := a.post(ctx, failPath, req, nil); err != nil {
			a.logger.Error("fail report failed", "job_id", job.ID, "error", err)
		}
		return
	}

	completePath := fmt.Sprintf("/jobs/%s/complete", job.ID)
	req := api.CompleteRequest{BotID: a.config.ID, Result: result, DurationMS: durationMS}
	if err := a.post(ctx, completePath, req, nil); err != nil {
		a.logger.Error("complete report failed", "job_id", job.ID, "error", err)
		return
	}

	a.logger.Info("job completed", "job_id", job.ID, "result", result, "duration_ms", durationMS)
}

// post sends a JSON request and decodes the response into out when non-nil.
func (a *Agent) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.CoordinatorURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		var apiErr api.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s (%s)", path, apiErr.Error, apiErr.Code)
		}
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
