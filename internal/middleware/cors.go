// Package middleware provides HTTP middleware for the Videa API.
package middleware

import (
	"net/http"
	"strconv"
)

const (
	chatMethods     = "GET, POST, OPTIONS"
	chatHeaders     = "Content-Type, X-Request-Id"
	preflightMaxAge = 10 * 60 // seconds
)

// CORS lets the chat frontend call the API from the configured origins.
// "*" accepts any origin without Allow-Credentials; only explicitly listed
// origins get credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	explicit := make(map[string]bool, len(allowedOrigins))
	anyOrigin := false
	for _, o := range allowedOrigins {
		if o == "*" {
			anyOrigin = true
			continue
		}
		explicit[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin != "" && (anyOrigin || explicit[origin]) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", chatMethods)
				h.Set("Access-Control-Allow-Headers", chatHeaders)
				if explicit[origin] {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Max-Age", strconv.Itoa(preflightMaxAge))
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
