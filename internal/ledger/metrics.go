package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	Acquired   *prometheus.CounterVec
	Committed  *prometheus.CounterVec
	Retired    prometheus.Counter
	Invariants prometheus.Counter
	Progress   prometheus.Gauge
}

// Commit results used as the "result" label.
const (
	commitResultCommitted = "committed"
	commitResultNotFound  = "not_found"
	commitResultMismatch  = "mismatch"
)

// NewMetrics registers the ledger collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Acquired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nyash",
			Name:      "jobs_acquired_total",
			Help:      "AcquireJob calls by outcome.",
		}, []string{"outcome"}),
		Committed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nyash",
			Name:      "jobs_committed_total",
			Help:      "Commit calls by result.",
		}, []string{"result"}),
		Retired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "nyash",
			Name:      "ranges_retired_total",
			Help:      "Ranges whose whole key space was confirmed searched.",
		}),
		Invariants: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "nyash",
			Name:      "invariant_violations_total",
			Help:      "Fatal bookkeeping errors. Anything above zero is a bug.",
		}),
		Progress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "nyash",
			Name:      "progress_ratio",
			Help:      "Last observed completion ratio, 0..1.",
		}),
	}
}

func (m *Metrics) acquired(o Outcome) {
	if m == nil {
		return
	}

	m.Acquired.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) committed(result string) {
	if m == nil {
		return
	}

	m.Committed.WithLabelValues(result).Inc()
}

func (m *Metrics) retired() {
	if m == nil {
		return
	}

	m.Retired.Inc()
}

func (m *Metrics) invariant() {
	if m == nil {
		return
	}

	m.Invariants.Inc()
}

func (m *Metrics) progress(v float64) {
	if m == nil {
		return
	}

	m.Progress.Set(v)
}
