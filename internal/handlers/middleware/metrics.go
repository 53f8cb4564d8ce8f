package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nkiryanov/walletapi/internal/metrics"
)

// HTTPMetrics observes request latency labelled by chi route pattern
func HTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &logWriter{
			ResponseWriter: w,
			data:           responseData{status: http.StatusOK},
		}

		next.ServeHTTP(lw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		metrics.HTTPLatency.
			WithLabelValues(r.Method, route, strconv.Itoa(lw.data.status)).
			Observe(time.Since(start).Seconds())
	})
}
