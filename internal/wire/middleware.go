package wire

import (
	"log/slog"
	"net/http"
	"time"
)

// LogMiddleware wraps an upgrade handler with request logging, the same
// shape dashi's web package uses for its own HTTP routes.
func LogMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 101}
		next.ServeHTTP(ww, r)
		logger.Info("wire_connection",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
