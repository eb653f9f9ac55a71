package handlers

import (
	"net/http"

	"botfleet/internal/monitor"
	"botfleet/pkg/api"
)

// AdminCleanup handles POST /admin/cleanup?dry_run= (admin). It runs one
// retention pass synchronously and returns the report.
func (h *Handlers) AdminCleanup(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "true"
	report := h.cleaner.Clean(r.Context(), dryRun)
	h.respondJSON(w, http.StatusOK, cleanupReport(report))
}

// CleanupStatus handles GET /admin/cleanup/status (admin).
func (h *Handlers) CleanupStatus(w http.ResponseWriter, r *http.Request) {
	history := h.cleaner.History()
	next := h.cleaner.NextRun()

	resp := api.CleanupStatusResponse{
		History: make([]api.CleanupReport, len(history)),
		NextRun: &next,
	}
	for i, rep := range history {
		resp.History[i] = cleanupReport(rep)
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// DatalakeStats handles GET /datalake/stats.
func (h *Handlers) DatalakeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.lake.Stats(r.Context())
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, api.DatalakeStatsResponse{
		TotalFiles:   stats.TotalFiles,
		TotalRecords: stats.TotalRecords,
		Succeeded:    stats.Succeeded,
		Failed:       stats.Failed,
		Daily:        stats.Daily,
	})
}

// DatalakeRecent handles GET /datalake/recent?limit=.
func (h *Handlers) DatalakeRecent(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r.URL.Query().Get("limit"), 100)

	records, err := h.lake.Recent(r.Context(), limit)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, records)
}

func cleanupReport(rep monitor.CleanupReport) api.CleanupReport {
	return api.CleanupReport{
		Timestamp:       rep.Timestamp,
		DryRun:          rep.DryRun,
		DeletedBots:     rep.DeletedBots,
		OrphanedResults: rep.OrphanedResults,
		Errors:          rep.Errors,
	}
}
