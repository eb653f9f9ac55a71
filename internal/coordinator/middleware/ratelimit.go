package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter tracks one caller's limiter and its last use for eviction.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit bounds request rates per remote host on the polling endpoints
// (claim, heartbeat), so a misbehaving bot in a tight loop cannot starve the
// store pool. rps == 0 disables the limiter.
func RateLimit(rps rate.Limit, burst int) func(http.Handler) http.Handler {
	limiters := sync.Map{} // host -> *clientLimiter

	// Drop limiters idle for longer than the eviction window.
	const evictAfter = 10 * time.Minute
	var lastSweep time.Time
	var sweepMu sync.Mutex

	return func(next http.Handler) http.Handler {
		if rps == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			now := time.Now()
			entry, _ := limiters.LoadOrStore(host, &clientLimiter{
				limiter: rate.NewLimiter(rps, burst),
			})
			cl := entry.(*clientLimiter)
			cl.lastSeen = now

			if !cl.limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			sweepMu.Lock()
			if now.Sub(lastSweep) > evictAfter {
				lastSweep = now
				limiters.Range(func(key, value any) bool {
					if now.Sub(value.(*clientLimiter).lastSeen) > evictAfter {
						limiters.Delete(key)
					}
					return true
				})
			}
			sweepMu.Unlock()

			next.ServeHTTP(w, r)
		})
	}
}
