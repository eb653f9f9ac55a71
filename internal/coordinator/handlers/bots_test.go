package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"botfleet/internal/service"
	"botfleet/internal/store"
	"botfleet/pkg/api"
)

func testBot(id string) *store.Bot {
	now := time.Now().UTC()
	return &store.Bot{
		ID:              id,
		Status:          store.BotStatusIdle,
		HealthStatus:    store.BotHealthNormal,
		LastHeartbeatAt: now,
		CreatedAt:       now,
	}
}

func TestRegisterBot(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		mock           *mockBotAPI
		expectedStatus int
		expectedInBody string
	}{
		{
			name:           "Success",
			body:           `{"id":"b1"}`,
			mock:           &mockBotAPI{registerBot: testBot("b1")},
			expectedStatus: http.StatusOK,
			expectedInBody: `"id":"b1"`,
		},
		{
			name:           "Missing id",
			body:           `{}`,
			mock:           &mockBotAPI{registerErr: service.BadRequest(service.CodeBadRequest, "bot id is required")},
			expectedStatus: http.StatusBadRequest,
			expectedInBody: service.CodeBadRequest,
		},
		{
			name:           "Unknown operation",
			body:           `{"id":"b1","assigned_operation":"transmogrify"}`,
			mock:           &mockBotAPI{registerErr: service.BadRequest(service.CodeUnknownOperation, "unknown operation")},
			expectedStatus: http.StatusBadRequest,
			expectedInBody: service.CodeUnknownOperation,
		},
		{
			name:           "Invalid JSON",
			body:           `{nope`,
			mock:           &mockBotAPI{},
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers(&mockJobAPI{}, tt.mock)

			req := httptest.NewRequest(http.MethodPost, "/bots/register", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			h.RegisterBot(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("body %q does not contain %q", rr.Body.String(), tt.expectedInBody)
			}
		})
	}
}

func TestHeartbeatBot(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		mock           *mockBotAPI
		expectedStatus int
	}{
		{
			name:           "Success",
			body:           `{"id":"b1"}`,
			mock:           &mockBotAPI{},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Unknown bot",
			body:           `{"id":"ghost"}`,
			mock:           &mockBotAPI{heartbeatErr: service.NotFound(service.CodeUnknownBot, "unknown bot")},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "Missing id",
			body:           `{}`,
			mock:           &mockBotAPI{},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers(&mockJobAPI{}, tt.mock)

			req := httptest.NewRequest(http.MethodPost, "/bots/heartbeat", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			h.HeartbeatBot(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.expectedStatus)
			}
		})
	}
}

func TestListBotsIncludesComputedStatus(t *testing.T) {
	bot := testBot("b1")
	bot.ComputedStatus = "down"

	h := newTestHandlers(&mockJobAPI{}, &mockBotAPI{listBots: []store.Bot{*bot}})

	req := httptest.NewRequest(http.MethodGet, "/bots", nil)
	rr := httptest.NewRecorder()
	h.ListBots(rr, req)

	var resp []api.BotResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp) != 1 || resp[0].ComputedStatus != "down" {
		t.Errorf("computed status not surfaced: %+v", resp)
	}
}

func TestDeleteBot(t *testing.T) {
	h := newTestHandlers(&mockJobAPI{}, &mockBotAPI{deleteErr: service.NotFound(service.CodeUnknownBot, "unknown bot")})

	req := httptest.NewRequest(http.MethodDelete, "/bots/ghost", nil)
	req.SetPathValue("id", "ghost")
	rr := httptest.NewRecorder()
	h.DeleteBot(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("got status %d, want 404", rr.Code)
	}
}

func TestBotStats(t *testing.T) {
	mock := &mockBotAPI{
		stats: &store.BotStats{TotalJobs: 10, Succeeded: 8, Failed: 2, AvgDurationMS: 120},
		statsRecent: []store.Result{
			{JobID: "J1", Status: store.ResultStatusSucceeded, DurationMS: 100, ProcessedAt: time.Now().UTC()},
		},
	}
	h := newTestHandlers(&mockJobAPI{}, mock)

	req := httptest.NewRequest(http.MethodGet, "/bots/b1/stats?hours=12", nil)
	req.SetPathValue("id", "b1")
	rr := httptest.NewRecorder()
	h.BotStats(rr, req)

	var resp api.BotStatsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.PeriodHours != 12 || resp.TotalJobs != 10 {
		t.Errorf("unexpected stats: %+v", resp)
	}
	if resp.SuccessRate != 80 {
		t.Errorf("success rate = %v, want 80", resp.SuccessRate)
	}
	if len(resp.RecentJobs) != 1 || resp.RecentJobs[0].JobID != "J1" {
		t.Errorf("recent jobs not surfaced: %+v", resp.RecentJobs)
	}
}
