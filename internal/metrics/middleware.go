package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// statusRecorder captures the response status for the request metrics
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func recordStatus(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.wroteHeader {
		return
	}
	rec.status = code
	rec.wroteHeader = true
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if !rec.wroteHeader {
		rec.WriteHeader(http.StatusOK)
	}
	return rec.ResponseWriter.Write(b)
}

// measure runs the handler and reports the route label, status and
// elapsed seconds for it.
func measure(next http.Handler, w http.ResponseWriter, r *http.Request) (path string, status int, seconds float64) {
	start := time.Now()
	rec := recordStatus(w)
	next.ServeHTTP(rec, r)
	return routeLabel(r), rec.status, time.Since(start).Seconds()
}

// HTTPMiddleware records request metrics against the process-local
// global registry. A nil global passes requests through untouched.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := Global()
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		path, status, seconds := measure(next, w, r)

		m.APIRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.APIRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(seconds)
		if status >= 400 {
			m.APIErrorsTotal.WithLabelValues(errorLabel(status)).Inc()
		}
	})
}

// HTTPMiddlewareWithCollector records request metrics through the
// collector so the counters survive restarts.
func HTTPMiddlewareWithCollector(c *Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c == nil {
				next.ServeHTTP(w, r)
				return
			}

			path, status, seconds := measure(next, w, r)

			c.TrackAPIRequest(r.Method, path, strconv.Itoa(status))
			c.metrics.APIRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(seconds)
			if status >= 400 {
				c.TrackAPIError(errorLabel(status))
			}
		})
	}
}

// routeLabel produces a low-cardinality path label: the chi route
// pattern when available, otherwise the raw path with campaign UUIDs
// and numeric contact ids collapsed to {id}.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}

	parts := strings.Split(r.URL.Path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if _, err := uuid.Parse(part); err == nil {
			parts[i] = "{id}"
			continue
		}
		if isDigits(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// errorLabel buckets error statuses into the failure modes this API
// actually produces: rejected content (422), campaign lifecycle
// conflicts (409), and the usual auth/input/server categories.
func errorLabel(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status == http.StatusUnprocessableEntity:
		return "content_rejected"
	case status == http.StatusConflict:
		return "state_conflict"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "auth_error"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusBadRequest:
		return "bad_request"
	case status >= 400:
		return "client_error"
	default:
		return "unknown"
	}
}
