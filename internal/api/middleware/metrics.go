package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const unmatchedRoute = "unmatched"

var (
	adminRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revive_http_requests_total",
		Help: "Admin API requests by route and status class",
	}, []string{"method", "route", "class"})

	adminLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "revive_http_request_duration_seconds",
		Help:    "Admin API request latency, excluding event streams",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "route"})

	adminInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "revive_http_requests_in_flight",
		Help: "Admin API requests being served, including open event streams",
	})
)

// Metrics counts admin API requests per chi route pattern. Websocket
// upgrades are counted but left out of the latency histogram, since an
// event stream lasts as long as the dashboard stays open.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminInFlight.Inc()
		defer adminInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		adminRequests.WithLabelValues(r.Method, route, statusClass(sw.Status())).Inc()
		if !isUpgrade(r) {
			adminLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	})
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return fmt.Sprintf("%dxx", status/100)
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// statusWriter remembers the first status written. A handler that writes a
// body without calling WriteHeader has answered 200.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Status returns the response status, 200 if nothing was written.
func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets the events stream upgrade through the middleware chain.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T cannot be hijacked", w.ResponseWriter)
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
