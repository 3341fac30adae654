package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// RequestLogger logs one structured line per request. The websocket
// endpoint is skipped: its connection lifetime would dominate the
// duration histogram of everything else.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ws/dashboard" {
				next.ServeHTTP(w, r)
				return
			}
			sr := &statusRecorder{ResponseWriter: w, status: 200}
			start := time.Now()
			next.ServeHTTP(sr, r)

			ev := log.Info()
			if sr.status >= 500 {
				ev = log.Error()
			}
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				ev = ev.Str("request_id", rid)
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sr.status).
				Dur("dur", time.Since(start)).
				Msg("request")
		})
	}
}
