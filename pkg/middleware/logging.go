// Package middleware contains HTTP middleware shared by the portal's routes.
package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/logging"
)

// RequestLogger returns middleware that logs HTTP requests. Successful
// requests log at DEBUG; error statuses log at WARN so they surface without
// raising the global level. URLs are sanitized before logging in case a
// caller puts a token in a query parameter.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("url", logging.SanitizeURL(r.URL.String())),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if wrapped.statusCode >= http.StatusInternalServerError {
				logger.Warn("HTTP request", fields...)
				return
			}
			logger.Debug("HTTP request", fields...)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
