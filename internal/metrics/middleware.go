package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Route labels for requests that did not reach a status handler.
const (
	RouteUnmatched = "unmatched"
	routeScrape    = "/metrics"
)

// Middleware records request counts and latencies for the status server,
// labelled by the chi route pattern so /stats and /readyz stay distinct.
// Prometheus scrapes of /metrics are not counted.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := statusRoute(r)
		if route == routeScrape {
			return
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ObserveHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

// statusRoute returns the matched route pattern, or RouteUnmatched for
// requests chi could not route.
func statusRoute(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return RouteUnmatched
	}
	return rctx.RoutePattern()
}
