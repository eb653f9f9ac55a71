package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"
)

func TestRateLimit(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("Burst then limited", func(t *testing.T) {
		mw := RateLimit(rate.Limit(1), 2)
		handler := mw(okHandler)

		statuses := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodPost, "/jobs/claim", nil)
			req.RemoteAddr = "10.0.0.1:5555"
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			statuses = append(statuses, rr.Code)
		}

		if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
			t.Errorf("burst requests rejected: %v", statuses)
		}
		if statuses[2] != http.StatusTooManyRequests {
			t.Errorf("third request not limited: %v", statuses)
		}
	})

	t.Run("Hosts are limited independently", func(t *testing.T) {
		mw := RateLimit(rate.Limit(1), 1)
		handler := mw(okHandler)

		first := httptest.NewRequest(http.MethodPost, "/jobs/claim", nil)
		first.RemoteAddr = "10.0.0.1:5555"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, first)
		if rr.Code != http.StatusOK {
			t.Fatalf("first host rejected: %d", rr.Code)
		}

		other := httptest.NewRequest(http.MethodPost, "/jobs/claim", nil)
		other.RemoteAddr = "10.0.0.2:5555"
		rr = httptest.NewRecorder()
		handler.ServeHTTP(rr, other)
		if rr.Code != http.StatusOK {
			t.Errorf("second host throttled by first host's limiter: %d", rr.Code)
		}
	})

	t.Run("Zero rate disables limiting", func(t *testing.T) {
		mw := RateLimit(0, 0)
		handler := mw(okHandler)

		for i := 0; i < 10; i++ {
			req := httptest.NewRequest(http.MethodPost, "/jobs/claim", nil)
			req.RemoteAddr = "10.0.0.1:5555"
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusOK {
				t.Fatalf("disabled limiter rejected request %d", i)
			}
		}
	})
}
