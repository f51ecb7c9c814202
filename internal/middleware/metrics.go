package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sakif/notesfy/internal/observability"
)

// Metrics records every request's latency in the given histogram, labelled
// by method, matched route and status. Pass
// observability.HTTPRequestDuration in production.
func Metrics(histogram *prometheus.HistogramVec) func(http.Handler) http.Handler {
	if histogram == nil {
		histogram = observability.HTTPRequestDuration
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrap(w)

			next.ServeHTTP(wrapped, r)

			histogram.WithLabelValues(
				r.Method,
				routePattern(r),
				strconv.Itoa(wrapped.statusCode),
			).Observe(time.Since(start).Seconds())
		})
	}
}
