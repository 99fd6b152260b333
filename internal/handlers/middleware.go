package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

// RequestIDMiddleware attaches a correlation ID to every request, reusing
// the caller's X-Request-ID when present.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), logging.RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLogMiddleware logs every request with its duration and tracks the
// active connection gauge.
func AccessLogMiddleware(logger *logging.StructuredLogger, m *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.ActiveConnections.Inc()
			defer m.ActiveConnections.Dec()

			next.ServeHTTP(w, r)

			logger.Debug(r.Context(), "[HTTP_ACCESS] Request served", logging.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"duration_ms": time.Since(start).Milliseconds(),
			})
		})
	}
}
