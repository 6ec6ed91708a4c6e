package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the verification lifecycle. Methods are safe on a nil
// receiver.
type Metrics struct {
	Requested      prometheus.Counter
	Transitions    *prometheus.CounterVec
	LedgerFailures *prometheus.CounterVec
	Reconciled     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requested: factory.NewCounter(prometheus.CounterOpts{
			Name: "idchain_verifications_requested_total",
			Help: "Verification requests created",
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idchain_verification_transitions_total",
			Help: "Status updates by target status and outcome",
		}, []string{"to", "outcome"}),
		LedgerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idchain_verification_ledger_failures_total",
			Help: "Failed approval writes by ledger error kind",
		}, []string{"kind"}),
		Reconciled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idchain_verification_reconciled_total",
			Help: "Stale ledger claims resolved by reconciliation",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncrementRequested() {
	if m != nil {
		m.Requested.Inc()
	}
}

// ObserveTransition records a status update attempt; outcome is "ok" or an
// error code.
func (m *Metrics) ObserveTransition(to, outcome string) {
	if m != nil {
		m.Transitions.WithLabelValues(to, outcome).Inc()
	}
}

func (m *Metrics) IncrementLedgerFailure(kind string) {
	if m != nil {
		m.LedgerFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) AddReconciled(outcome string, n int) {
	if m != nil && n > 0 {
		m.Reconciled.WithLabelValues(outcome).Add(float64(n))
	}
}
