// Package handlers contains HTTP handlers for the coordinator API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"botfleet/internal/datalake"
	"botfleet/internal/monitor"
	"botfleet/internal/operations"
	"botfleet/internal/service"
	"botfleet/internal/store"
	"botfleet/pkg/api"
)

// JobAPI is the slice of the job service the handlers call.
type JobAPI interface {
	Populate(ctx context.Context, batchSize int, operation string) ([]store.Job, error)
	List(ctx context.Context, status string, limit, offset int) ([]store.Job, error)
	Get(ctx context.Context, id string) (*store.Job, error)
	Claim(ctx context.Context, botID string) (*store.Job, error)
	Start(ctx context.Context, jobID, botID string) error
	Complete(ctx context.Context, jobID, botID string, result, durationMS int64) error
	Fail(ctx context.Context, jobID, botID, errMsg string, durationMS int64) error
	Release(ctx context.Context, jobID, reason string) error
	Summary(ctx context.Context, downThreshold time.Duration) (map[store.JobStatus]int64, map[string]int64, error)
}

// BotAPI is the slice of the bot service the handlers call.
type BotAPI interface {
	Register(ctx context.Context, id string, assignedOperation *string) (*store.Bot, error)
	Heartbeat(ctx context.Context, id string) error
	AssignOperation(ctx context.Context, id string, operation *string) (*store.Bot, error)
	SoftDelete(ctx context.Context, id string) error
	Reset(ctx context.Context, id string) (*store.Bot, error)
	List(ctx context.Context, includeDeleted bool, downThreshold time.Duration) ([]store.Bot, error)
	Stats(ctx context.Context, id string, window time.Duration) (*store.BotStats, []store.Result, error)
}

// Cleaner is the retention cleaner surface of the admin API.
type Cleaner interface {
	Clean(ctx context.Context, dryRun bool) monitor.CleanupReport
	History() []monitor.CleanupReport
	NextRun() time.Time
}

// LakeReader exposes the datalake read side.
type LakeReader interface {
	Stats(ctx context.Context) (*datalake.Stats, error)
	Recent(ctx context.Context, limit int) ([]datalake.Record, error)
}

// Pinger checks store connectivity for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	jobs          JobAPI
	bots          BotAPI
	registry      *operations.Registry
	cleaner       Cleaner
	lake          LakeReader
	pinger        Pinger
	downThreshold time.Duration
	logger        *slog.Logger
}

// New creates a new Handlers instance.
func New(jobs JobAPI, bots BotAPI, registry *operations.Registry, cleaner Cleaner, lake LakeReader, pinger Pinger, downThreshold time.Duration, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:          jobs,
		bots:          bots,
		registry:      registry,
		cleaner:       cleaner,
		lake:          lake,
		pinger:        pinger,
		downThreshold: downThreshold,
		logger:        logger,
	}
}

// respondJSON writes a standard JSON response. A nil payload encodes as JSON
// null, which the claim endpoint uses for "no work".
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// serviceError maps the service error taxonomy onto HTTP statuses with the
// contract code in the body.
func (h *Handlers) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		h.logger.ErrorContext(r.Context(), "unclassified handler error", "error", err)
		h.respondJSON(w, http.StatusInternalServerError, api.ErrorResponse{
			Error: "internal error",
			Code:  service.CodeFatal,
		})
		return
	}

	status := http.StatusInternalServerError
	switch se.Kind {
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindConflict:
		status = http.StatusConflict
	case service.KindBadRequest:
		status = http.StatusBadRequest
	case service.KindUnauthorized:
		status = http.StatusUnauthorized
	case service.KindTransient:
		status = http.StatusServiceUnavailable
	case service.KindFatal:
		status = http.StatusInternalServerError
	}

	if se.Kind == service.KindTransient || se.Kind == service.KindFatal {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "code", se.Code, "error", err)
	}

	h.respondJSON(w, status, api.ErrorResponse{
		Error: se.Message,
		Code:  se.Code,
	})
}

func (h *Handlers) badRequest(w http.ResponseWriter, message string) {
	h.respondJSON(w, http.StatusBadRequest, api.ErrorResponse{
		Error: message,
		Code:  service.CodeBadRequest,
	})
}

func jobResponse(j *store.Job) api.JobResponse {
	return api.JobResponse{
		ID:         j.ID,
		A:          j.A,
		B:          j.B,
		Operation:  j.Operation,
		Status:     string(j.Status),
		ClaimedBy:  j.ClaimedBy,
		CreatedAt:  j.CreatedAt,
		ClaimedAt:  j.ClaimedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		Attempts:   j.Attempts,
		Error:      j.Error,
		Version:    j.Version,
		Result:     j.Result,
		DurationMS: j.DurationMS,
	}
}

func botResponse(b *store.Bot) api.BotResponse {
	computed := b.ComputedStatus
	if computed == "" {
		computed = string(b.Status)
	}
	return api.BotResponse{
		ID:                b.ID,
		Status:            string(b.Status),
		ComputedStatus:    computed,
		CurrentJobID:      b.CurrentJobID,
		AssignedOperation: b.AssignedOperation,
		HealthStatus:      string(b.HealthStatus),
		StuckJobID:        b.StuckJobID,
		LastHeartbeatAt:   b.LastHeartbeatAt,
		CreatedAt:         b.CreatedAt,
		DeletedAt:         b.DeletedAt,
	}
}
