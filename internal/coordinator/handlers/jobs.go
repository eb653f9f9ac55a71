package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"botfleet/pkg/api"
)

// PopulateJobs handles POST /jobs/populate (admin).
func (h *Handlers) PopulateJobs(w http.ResponseWriter, r *http.Request) {
	var req api.PopulateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.badRequest(w, "invalid request body")
			return
		}
	}

	jobs, err := h.jobs.Populate(r.Context(), req.BatchSize, req.Operation)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	h.respondJSON(w, http.StatusOK, api.PopulateResponse{Created: ids})
}

// ListJobs handles GET /jobs. The response order is the listing contract:
// status priority first, then created_at descending.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := intQuery(q.Get("limit"), 100)
	offset := intQuery(q.Get("offset"), 0)

	jobs, err := h.jobs.List(r.Context(), q.Get("status"), limit, offset)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := make([]api.JobResponse, len(jobs))
	for i := range jobs {
		resp[i] = jobResponse(&jobs[i])
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, jobResponse(job))
}

// ClaimJob handles POST /jobs/claim. No matching pending job returns JSON
// null, not an error; bots poll.
func (h *Handlers) ClaimJob(w http.ResponseWriter, r *http.Request) {
	var req api.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if req.BotID == "" {
		h.badRequest(w, "bot_id is required")
		return
	}

	job, err := h.jobs.Claim(r.Context(), req.BotID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if job == nil {
		h.respondJSON(w, http.StatusOK, nil)
		return
	}

	h.respondJSON(w, http.StatusOK, jobResponse(job))
}

// StartJob handles POST /jobs/{id}/start.
func (h *Handlers) StartJob(w http.ResponseWriter, r *http.Request) {
	var req api.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if req.BotID == "" {
		h.badRequest(w, "bot_id is required")
		return
	}

	if err := h.jobs.Start(r.Context(), r.PathValue("id"), req.BotID); err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

// CompleteJob handles POST /jobs/{id}/complete.
func (h *Handlers) CompleteJob(w http.ResponseWriter, r *http.Request) {
	var req api.CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if req.BotID == "" {
		h.badRequest(w, "bot_id is required")
		return
	}

	if err := h.jobs.Complete(r.Context(), r.PathValue("id"), req.BotID, req.Result, req.DurationMS); err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

// FailJob handles POST /jobs/{id}/fail.
func (h *Handlers) FailJob(w http.ResponseWriter, r *http.Request) {
	var req api.FailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if req.BotID == "" || req.Error == "" {
		h.badRequest(w, "bot_id and error are required")
		return
	}

	if err := h.jobs.Fail(r.Context(), r.PathValue("id"), req.BotID, req.Error, req.DurationMS); err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

// ReleaseJob handles POST /jobs/{id}/release (admin).
func (h *Handlers) ReleaseJob(w http.ResponseWriter, r *http.Request) {
	var req api.ReleaseRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.badRequest(w, "invalid request body")
			return
		}
	}

	if err := h.jobs.Release(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

// Operations handles GET /operations.
func (h *Handlers) Operations(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, api.OperationsResponse{Names: h.registry.Names()})
}

// MetricsSummary handles GET /metrics/summary.
func (h *Handlers) MetricsSummary(w http.ResponseWriter, r *http.Request) {
	jobs, bots, err := h.jobs.Summary(r.Context(), h.downThreshold)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := api.MetricsSummaryResponse{
		Jobs: make(map[string]int64, len(jobs)),
		Bots: bots,
	}
	for status, count := range jobs {
		resp.Jobs[string(status)] = count
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func intQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
