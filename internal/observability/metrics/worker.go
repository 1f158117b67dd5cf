package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	jobTotal     *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobInFlight  prometheus.Gauge
	queueLag     *prometheus.HistogramVec
	resumedTotal prometheus.Counter
	capability   *prometheus.HistogramVec
	breakerState *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	jobTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_total",
			Help:      "Total enrichment job runs by status.",
		},
		[]string{"service", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Enrichment job duration in seconds by status.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "status"},
	)
	jobInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_in_flight",
			Help:      "Number of in-flight enrichment jobs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between job creation and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	resumedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_resumed_total",
			Help:      "Queued or retrying jobs re-scheduled at worker start.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	capability := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "capability_duration_seconds",
			Help:      "Enrichment capability latency by capability and outcome.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"service", "capability", "outcome"},
	)
	breakerState := newBreakerStateGauge()

	registry.MustRegister(jobTotal, jobDuration, jobInFlight, queueLag, resumedTotal, capability, breakerState)

	return &WorkerMetrics{
		registry:     registry,
		service:      service,
		jobTotal:     jobTotal,
		jobDuration:  jobDuration,
		jobInFlight:  jobInFlight,
		queueLag:     queueLag,
		resumedTotal: resumedTotal,
		capability:   capability,
		breakerState: breakerState,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.jobInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob(duration time.Duration, err error) {
	m.jobInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.jobTotal.WithLabelValues(m.service, status).Inc()
	m.jobDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) AddResumed(n int) {
	if n > 0 {
		m.resumedTotal.Add(float64(n))
	}
}

// ObserveCapability matches enrichment.CapabilityObserver.
func (m *WorkerMetrics) ObserveCapability(capability string, succeeded bool, elapsed time.Duration) {
	outcome := "success"
	if !succeeded {
		outcome = "error"
	}
	m.capability.WithLabelValues(m.service, capability, outcome).Observe(elapsed.Seconds())
}

func (m *WorkerMetrics) SetBreakerState(operation, state string) {
	setBreakerState(m.breakerState, operation, state)
}

func newBreakerStateGauge() *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"operation"},
	)
}

func setBreakerState(gauge *prometheus.GaugeVec, operation, state string) {
	value := 0.0
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	gauge.WithLabelValues(operation).Set(value)
}
