package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireAdminAuth(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name           string
		configured     string
		header         string
		expectedStatus int
	}{
		{
			name:           "Valid token",
			configured:     "s3cret",
			header:         "Bearer s3cret",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Missing header",
			configured:     "s3cret",
			header:         "",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong token",
			configured:     "s3cret",
			header:         "Bearer nope",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Malformed header",
			configured:     "s3cret",
			header:         "s3cret",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong scheme",
			configured:     "s3cret",
			header:         "Basic s3cret",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "No token configured fails closed",
			configured:     "",
			header:         "Bearer anything",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := RequireAdminAuth(tt.configured)

			req := httptest.NewRequest(http.MethodPost, "/admin/cleanup", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rr := httptest.NewRecorder()
			mw(okHandler).ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.expectedStatus)
			}
		})
	}
}
