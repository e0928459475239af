package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/insights/pkg/logger"
	"github.com/okian/insights/pkg/metrics"
)

// unmatched labels requests that reached no route.
const unmatched = "unmatched"

// Instrument records request count, latency and error class per route
// pattern, and logs each request at debug level.
func Instrument(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			endpoint := routeOf(r)
			elapsed := time.Since(start)
			status := strconv.Itoa(rec.status)
			metrics.RecordHTTPRequest(endpoint, r.Method, status)
			metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, float64(elapsed.Microseconds())/1000)

			if class, severity, ok := classify(rec.status); ok {
				metrics.RecordErrorByEndpoint(endpoint, r.Method, class)
				metrics.RecordErrorByType(class, severity)
			}

			log.Debug(r.Context(), "http request",
				logger.String("method", r.Method),
				logger.String("route", endpoint),
				logger.Int("status", rec.status),
				logger.Duration("elapsed", elapsed))
		})
	}
}

// routeOf returns the matched chi pattern so path parameters do not blow up
// label cardinality.
func routeOf(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return unmatched
	}
	p := strings.TrimSuffix(rc.RoutePattern(), "/*")
	if p == "" {
		return unmatched
	}
	return p
}

// classify maps an error status to an error class and severity.
func classify(status int) (class, severity string, ok bool) {
	switch {
	case status == http.StatusServiceUnavailable:
		return "unavailable", "high", true
	case status >= http.StatusInternalServerError:
		return "server_error", "high", true
	case status == http.StatusNotFound:
		return "not_found", "low", true
	case status == http.StatusMethodNotAllowed:
		return "method_not_allowed", "low", true
	case status >= http.StatusBadRequest:
		return "client_error", "medium", true
	}
	return "", "", false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
