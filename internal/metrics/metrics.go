// Package metrics exposes Prometheus collectors for classification runs and
// the review server. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recipesorter"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	itemsTotal      *prometheus.CounterVec
	itemDuration    *prometheus.HistogramVec
	itemsInFlight   prometheus.Gauge
	attemptsTotal   *prometheus.CounterVec
	batchesTotal    prometheus.Counter
	runsTotal       *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	itemsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "items_total",
			Help:      "Items processed by outcome.",
		},
		[]string{"outcome"},
	)
	itemDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "item_duration_seconds",
			Help:      "Time to classify and resolve one item, retries included.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"outcome"},
	)
	itemsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "items_in_flight",
			Help:      "Items currently being classified.",
		},
	)
	attemptsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "attempts_total",
			Help:      "Classifier calls by result.",
		},
		[]string{"result"},
	)
	batchesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "batches_total",
			Help:      "Batches completed.",
		},
	)
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Runs by final state.",
		},
		[]string{"state"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "breaker_state",
			Help:      "1 for the current circuit breaker state, 0 otherwise.",
		},
		[]string{"state"},
	)
	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	registry.MustRegister(itemsTotal, itemDuration, itemsInFlight, attemptsTotal,
		batchesTotal, runsTotal, breakerState, requestTotal, requestDuration)

	return &Metrics{
		registry:        registry,
		itemsTotal:      itemsTotal,
		itemDuration:    itemDuration,
		itemsInFlight:   itemsInFlight,
		attemptsTotal:   attemptsTotal,
		batchesTotal:    batchesTotal,
		runsTotal:       runsTotal,
		breakerState:    breakerState,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
	}
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile dumps the current values in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// StartItem marks an item as in flight.
func (m *Metrics) StartItem() {
	if m == nil {
		return
	}
	m.itemsInFlight.Inc()
}

// FinishItem records an item outcome: "success" or a failure kind.
func (m *Metrics) FinishItem(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.itemsInFlight.Dec()
	m.itemsTotal.WithLabelValues(outcome).Inc()
	m.itemDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveAttempt counts one classifier call by result.
func (m *Metrics) ObserveAttempt(result string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(result).Inc()
}

// FinishBatch counts a completed batch.
func (m *Metrics) FinishBatch() {
	if m == nil {
		return
	}
	m.batchesTotal.Inc()
}

// FinishRun counts a run by its final state.
func (m *Metrics) FinishRun(state string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(state).Inc()
}

// SetBreakerState marks state as the current breaker state.
func (m *Metrics) SetBreakerState(state string) {
	if m == nil {
		return
	}
	m.breakerState.Reset()
	m.breakerState.WithLabelValues(state).Set(1)
}
