package batchz

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for one coalescer. Every series carries a
// constant "coalescer" label, so several coalescers can share a registry.
type Metrics struct {
	submitted    prometheus.Counter
	rejected     *prometheus.CounterVec
	batches      *prometheus.CounterVec
	batchSize    prometheus.Histogram
	execDuration *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
	inflight     prometheus.Gauge
}

func newMetrics(name string, reg prometheus.Registerer) (*Metrics, error) {
	labels := prometheus.Labels{"coalescer": name}

	m := &Metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "batchz_submitted_total",
			Help:        "Total requests accepted into a batch",
			ConstLabels: labels,
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "batchz_rejected_total",
			Help:        "Total requests refused before batching",
			ConstLabels: labels,
		}, []string{"reason"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "batchz_batches_total",
			Help:        "Total batches executed",
			ConstLabels: labels,
		}, []string{"status"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "batchz_batch_size",
			Help:        "Number of requests per executed batch",
			ConstLabels: labels,
			Buckets:     []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		}),
		execDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "batchz_execution_duration_seconds",
			Help:        "Time spent executing a batch, including concat and split",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "batchz_queue_depth",
			Help:        "Closed batches waiting for a worker",
			ConstLabels: labels,
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "batchz_inflight_batches",
			Help:        "Batches currently executing",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{
		m.submitted, m.rejected, m.batches, m.batchSize, m.execDuration, m.queueDepth, m.inflight,
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return nil, fmt.Errorf("metrics for coalescer %q already registered: %w", name, err)
			}
			return nil, fmt.Errorf("register metrics for coalescer %q: %w", name, err)
		}
	}
	return m, nil
}

func (m *Metrics) recordSubmit() {
	if m == nil {
		return
	}
	m.submitted.Inc()
}

func (m *Metrics) recordReject(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordQueue(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) recordStart() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) recordBatch(size int, seconds float64, failed bool) {
	if m == nil {
		return
	}
	status := "completed"
	if failed {
		status = "failed"
	}
	m.inflight.Dec()
	m.batches.WithLabelValues(status).Inc()
	m.batchSize.Observe(float64(size))
	m.execDuration.WithLabelValues(status).Observe(seconds)
}

// rejectReason maps a submit error onto the "reason" label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotStarted):
		return "not_started"
	case errors.Is(err, ErrStopped):
		return "stopped"
	default:
		return "other"
	}
}
