package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for ledger calls.
type Metrics struct {
	// Calls by operation and outcome kind ("ok" or an error kind)
	Calls *prometheus.CounterVec

	// Call latency by operation, including receipt waits for writes
	CallLatency *prometheus.HistogramVec

	// Transactions submitted but not confirmed before the deadline
	Unconfirmed prometheus.Counter
}

// New registers ledger metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idchain_ledger_calls_total",
			Help: "Ledger calls by operation and outcome",
		}, []string{"op", "outcome"}),

		CallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idchain_ledger_call_duration_seconds",
			Help:    "Duration of ledger calls by operation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"op"}),

		Unconfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "idchain_ledger_unconfirmed_total",
			Help: "Transactions submitted without a receipt before the confirm deadline",
		}),
	}
}

// ObserveCall records one ledger call.
func (m *Metrics) ObserveCall(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(op, outcome).Inc()
	m.CallLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) IncrementUnconfirmed() {
	if m != nil {
		m.Unconfirmed.Inc()
	}
}
