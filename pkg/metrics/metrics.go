// Package metrics holds the Prometheus collectors for workspace operations,
// origin sync traffic and the origin HTTP server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docstore"

// Metrics is a set of registered collectors. A nil *Metrics records nothing.
type Metrics struct {
	opTotal      *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	syncTotal    *prometheus.CounterVec
	syncObjects  *prometheus.CounterVec
	state        *prometheus.GaugeVec
	httpTotal    *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpErrors   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which tests use to read values directly.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		opTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workspace",
			Name:      "operations_total",
			Help:      "Workspace operations by outcome.",
		}, []string{"workspace", "op", "kind", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workspace",
			Name:      "operation_duration_seconds",
			Help:      "Workspace operation latency in seconds, including any fetch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "kind"}),
		syncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "total",
			Help:      "Fetches and pushes against origin by outcome.",
		}, []string{"workspace", "direction", "outcome"}),
		syncObjects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "objects_total",
			Help:      "Objects transferred to or from origin.",
		}, []string{"direction"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workspace",
			Name:      "state",
			Help:      "Current lifecycle state: 0 uninitialized, 1 cloning, 2 ready.",
		}, []string{"workspace"}),
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status_class"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status_class"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Total number of HTTP requests with status >= 400.",
		}, []string{"method", "route", "status_code"}),
	}
	if reg != nil {
		reg.MustRegister(m.opTotal, m.opDuration, m.syncTotal, m.syncObjects, m.state,
			m.httpTotal, m.httpDuration, m.httpErrors)
	}
	return m
}

// ObserveOperation records one dispatched workspace operation.
func (m *Metrics) ObserveOperation(workspace, op, kind string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.opTotal.WithLabelValues(workspace, op, kind, outcome(err)).Inc()
	m.opDuration.WithLabelValues(op, kind).Observe(d.Seconds())
}

// ObserveSync records a fetch or push and the number of objects it moved.
func (m *Metrics) ObserveSync(workspace, direction string, objects int, err error) {
	if m == nil {
		return
	}
	m.syncTotal.WithLabelValues(workspace, direction, outcome(err)).Inc()
	if objects > 0 {
		m.syncObjects.WithLabelValues(direction).Add(float64(objects))
	}
}

// SetState publishes a workspace lifecycle state.
func (m *Metrics) SetState(workspace string, state int) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(workspace).Set(float64(state))
}

// Middleware counts and times every request except scrapes of /metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL != nil && r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := routeLabel(r)
		class := statusClass(rec.status)
		m.httpTotal.WithLabelValues(r.Method, route, class).Inc()
		m.httpDuration.WithLabelValues(r.Method, route, class).Observe(time.Since(start).Seconds())
		if rec.status >= http.StatusBadRequest {
			m.httpErrors.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		}
	})
}

// Handler serves the collected metrics of gatherer, or of the default
// gatherer when nil.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func routeLabel(r *http.Request) string {
	if r == nil || r.URL == nil {
		return "unknown"
	}
	if pattern := strings.TrimSpace(r.Pattern); pattern != "" {
		if _, route, ok := strings.Cut(pattern, " "); ok {
			return strings.TrimSpace(route)
		}
		return pattern
	}
	switch p := r.URL.Path; {
	case p == "/healthz":
		return "/healthz"
	case strings.HasPrefix(p, "/docstore/"):
		return "/docstore/*"
	default:
		return "other"
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
