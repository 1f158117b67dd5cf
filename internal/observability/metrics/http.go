package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "media_hub"

type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	ingestTotal    *prometheus.CounterVec
	conflictsTotal *prometheus.CounterVec
	rollbacksTotal *prometheus.CounterVec
	rejectedTotal  *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	ingestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assets",
			Name:      "ingest_total",
			Help:      "Ingest requests by outcome (created, duplicate, error).",
		},
		[]string{"service", "source", "outcome"},
	)
	conflictsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "conflicts_total",
			Help:      "Metadata updates rejected because of a stale version token.",
		},
		[]string{"service"},
	)
	rollbacksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "rollbacks_total",
			Help:      "Metadata rollbacks by status.",
		},
		[]string{"service", "status"},
	)
	rejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Requests rejected by traffic control (rate_limited, overloaded).",
		},
		[]string{"service", "reason"},
	)
	breakerState := newBreakerStateGauge()

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		ingestTotal,
		conflictsTotal,
		rollbacksTotal,
		rejectedTotal,
		breakerState,
	)

	return &HTTPServerMetrics{
		registry:        registry,
		service:         service,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		ingestTotal:     ingestTotal,
		conflictsTotal:  conflictsTotal,
		rollbacksTotal:  rollbacksTotal,
		rejectedTotal:   rejectedTotal,
		breakerState:    breakerState,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		path := normalizePath(r)
		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps label cardinality bounded. An exact mux pattern is used
// when routing filled one in; subtree patterns fall back to collapsing ids.
func normalizePath(r *http.Request) string {
	pattern := r.Pattern
	if _, path, ok := strings.Cut(pattern, " "); ok {
		pattern = path
	}
	if pattern != "" && !strings.HasSuffix(pattern, "/") {
		return pattern
	}
	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(segments) >= 3 && segments[0] == "v1" {
		switch segments[1] {
		case "assets":
			segments[2] = "{id}"
			if len(segments) >= 5 && segments[3] == "versions" {
				segments[4] = "{version}"
			}
		case "jobs":
			segments[2] = "{id}"
		}
	}
	return "/" + strings.Join(segments, "/")
}

func (m *HTTPServerMetrics) RecordIngest(source, outcome string) {
	if source == "" {
		source = "unknown"
	}
	m.ingestTotal.WithLabelValues(m.service, source, outcome).Inc()
}

func (m *HTTPServerMetrics) RecordConflict() {
	m.conflictsTotal.WithLabelValues(m.service).Inc()
}

func (m *HTTPServerMetrics) RecordRollback(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.rollbacksTotal.WithLabelValues(m.service, status).Inc()
}

func (m *HTTPServerMetrics) RecordRejected(reason string) {
	m.rejectedTotal.WithLabelValues(m.service, reason).Inc()
}

// SetBreakerState exports the latest circuit breaker state of operation.
func (m *HTTPServerMetrics) SetBreakerState(operation, state string) {
	setBreakerState(m.breakerState, operation, state)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
