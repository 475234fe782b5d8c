package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	documentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_transitions_total",
			Help: "Finalisation workflow transition attempts by outcome.",
		},
		[]string{"type", "action", "outcome"},
	)

	documentNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_notifications_total",
			Help: "Client share notifications by outcome.",
		},
		[]string{"outcome"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})

	initOnce sync.Once
)

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			documentTransitions, documentNotifications, readyGauge)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTransition counts one transition attempt. outcome is "applied", "noop", a rejection reason or "error".
func ObserveTransition(docType, action, outcome string) {
	documentTransitions.WithLabelValues(docType, action, outcome).Inc()
}

// ObserveNotification counts one share notification attempt.
func ObserveNotification(outcome string) {
	documentNotifications.WithLabelValues(outcome).Inc()
}

// SetReady records the result of the last readiness check.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Instrument measures requests, latency and in-flight count, labelled by canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

var documentKinds = map[string]struct{}{
	"reports":      {},
	"deliverables": {},
}

var documentActions = map[string]struct{}{
	"submit":   {},
	"finalise": {},
	"share":    {},
	"revoke":   {},
	"archive":  {},
}

// CanonicalPath collapses document identifiers so metric label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return raw
	}
	if _, ok := documentKinds[parts[1]]; !ok {
		return raw
	}
	switch len(parts) {
	case 3:
		return "/v1/" + parts[1] + "/:id"
	case 4:
		if _, ok := documentActions[parts[3]]; ok {
			return "/v1/" + parts[1] + "/:id/" + parts[3]
		}
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
