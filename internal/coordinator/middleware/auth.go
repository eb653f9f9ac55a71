// Package middleware contains HTTP middleware for the coordinator API.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"botfleet/pkg/api"
)

// RequireAdminAuth ensures the request carries the shared admin bearer token.
// With no token configured every admin request is rejected; the gate fails
// closed.
func RequireAdminAuth(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminToken == "" {
				unauthorized(w, "admin API disabled: no admin token configured")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				unauthorized(w, "invalid authorization header")
				return
			}

			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(adminToken)) != 1 {
				unauthorized(w, "invalid authorization token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: message,
		Code:  "unauthorized",
	})
}
