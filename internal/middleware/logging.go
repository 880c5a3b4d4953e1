// Package middleware holds the HTTP middleware shared by every route.
package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"membership-manager/internal/common/logging"
	"membership-manager/internal/common/utils"
	"membership-manager/internal/metrics"
)

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RequestID reuses the caller's request id or makes one, and puts it in
// the request context for loggers
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = utils.NewRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

// Logging logs every request with method, path, status and duration, and
// records it in m
func Logging(m *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			m.ObserveHTTP(routeName(r), wrapped.statusCode, duration)

			fields := []logging.Field{
				{"method", r.Method},
				{"path", r.URL.Path},
				{"status", wrapped.statusCode},
				{"duration_ms", duration.Milliseconds()},
				{"remote_addr", r.RemoteAddr},
			}
			if ua := r.Header.Get("User-Agent"); ua != "" {
				fields = append(fields, logging.Field{"user_agent", ua})
			}

			logger := logging.WithContext(r.Context())
			if wrapped.statusCode >= 500 {
				logger.Error("HTTP request completed", nil, fields...)
			} else if wrapped.statusCode >= 400 {
				logger.Warn("HTTP request completed", fields...)
			} else {
				logger.Info("HTTP request completed", fields...)
			}
		})
	}
}

// routeName is the matched mux template, which keeps metric labels bounded
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
