package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeOK         = "ok"
	OutcomeValidation = "validation_error"
	OutcomeSolver     = "solver_error"
	OutcomeStore      = "store_error"
)

// Metrics holds the derivation collectors.
type Metrics struct {
	Derivations     *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
	PointsPersisted *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg gives collectors
// that are not registered anywhere.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Derivations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dynbranch_derivations_total",
			Help: "Derivations attempted, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dynbranch_derivation_duration_seconds",
			Help:    "Wall time of derivations including the solver call.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"kind"}),
		PointsPersisted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dynbranch_points_persisted_total",
			Help: "Continuation points written to the store, by branch kind.",
		}, []string{"kind"}),
	}
}

// Observe records one finished derivation.
func (m *Metrics) Observe(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Derivations.WithLabelValues(kind, outcome).Inc()
	m.Duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) Persisted(kind string, points int) {
	if m == nil || points <= 0 {
		return
	}
	m.PointsPersisted.WithLabelValues(kind).Add(float64(points))
}

// WriteTextfile dumps g in the node-exporter textfile format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
