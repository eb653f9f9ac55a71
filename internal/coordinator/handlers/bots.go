package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"botfleet/pkg/api"
)

// RegisterBot handles POST /bots/register.
func (h *Handlers) RegisterBot(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}

	var assigned *string
	if req.AssignedOperation != "" {
		assigned = &req.AssignedOperation
	}

	bot, err := h.bots.Register(r.Context(), req.ID, assigned)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, botResponse(bot))
}

// HeartbeatBot handles POST /bots/heartbeat.
func (h *Handlers) HeartbeatBot(w http.ResponseWriter, r *http.Request) {
	var req api.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if req.ID == "" {
		h.badRequest(w, "id is required")
		return
	}

	if err := h.bots.Heartbeat(r.Context(), req.ID); err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

// AssignOperation handles POST /bots/{id}/assign-operation (admin). An empty
// operation clears the pin and restores dynamic pinning on the next claim.
func (h *Handlers) AssignOperation(w http.ResponseWriter, r *http.Request) {
	var req api.AssignOperationRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.badRequest(w, "invalid request body")
			return
		}
	}

	var operation *string
	if req.Operation != "" {
		operation = &req.Operation
	}

	bot, err := h.bots.AssignOperation(r.Context(), r.PathValue("id"), operation)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, botResponse(bot))
}

// DeleteBot handles DELETE /bots/{id} (admin).
func (h *Handlers) DeleteBot(w http.ResponseWriter, r *http.Request) {
	if err := h.bots.SoftDelete(r.Context(), r.PathValue("id")); err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

// ResetBot handles POST /bots/{id}/reset (admin).
func (h *Handlers) ResetBot(w http.ResponseWriter, r *http.Request) {
	bot, err := h.bots.Reset(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, botResponse(bot))
}

// ListBots handles GET /bots.
func (h *Handlers) ListBots(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"

	bots, err := h.bots.List(r.Context(), includeDeleted, h.downThreshold)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := make([]api.BotResponse, len(bots))
	for i := range bots {
		resp[i] = botResponse(&bots[i])
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// BotStats handles GET /bots/{id}/stats.
func (h *Handlers) BotStats(w http.ResponseWriter, r *http.Request) {
	hours := intQuery(r.URL.Query().Get("hours"), 24)
	if hours <= 0 {
		hours = 24
	}

	id := r.PathValue("id")
	stats, recent, err := h.bots.Stats(r.Context(), id, time.Duration(hours)*time.Hour)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := api.BotStatsResponse{
		BotID:         id,
		PeriodHours:   hours,
		TotalJobs:     stats.TotalJobs,
		Succeeded:     stats.Succeeded,
		Failed:        stats.Failed,
		AvgDurationMS: stats.AvgDurationMS,
		MinDurationMS: stats.MinDurationMS,
		MaxDurationMS: stats.MaxDurationMS,
		RecentJobs:    make([]api.RecentJobEntry, len(recent)),
	}
	if stats.TotalJobs > 0 {
		resp.SuccessRate = float64(stats.Succeeded) / float64(stats.TotalJobs) * 100
	}
	for i, res := range recent {
		resp.RecentJobs[i] = api.RecentJobEntry{
			JobID:       res.JobID,
			Status:      string(res.Status),
			DurationMS:  res.DurationMS,
			ProcessedAt: res.ProcessedAt,
			Error:       res.Error,
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}
