package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts cache lookups. Methods are safe on a nil receiver.
type Metrics struct {
	Lookups *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Lookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "idchain_identity_cache_lookups_total",
			Help: "Identity details cache lookups by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncrementHit() {
	if m != nil {
		m.Lookups.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) IncrementMiss() {
	if m != nil {
		m.Lookups.WithLabelValues("miss").Inc()
	}
}
