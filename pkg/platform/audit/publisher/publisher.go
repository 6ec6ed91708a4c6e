// Package publisher emits audit events with fail-closed semantics.
//
// Emit writes synchronously through the audit store. When the store is the
// Postgres outbox and ctx carries a transaction, the event commits or rolls
// back with the state change it describes. If the write fails the caller's
// operation must fail too.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "idchain/pkg/platform/audit"
	"idchain/pkg/requestcontext"
)

type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit fills in the category, timestamp and request ID, then persists event.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Action == "" {
		return fmt.Errorf("audit event requires Action")
	}
	event.Category = audit.AuditEvent(event.Action).Category()
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	start := time.Now()
	if err := p.store.Append(ctx, event); err != nil {
		p.metrics.incPersistFailures(event.Action)
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit persistence failed",
				"action", event.Action,
				"user_id", event.UserID,
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}
	p.metrics.observe(event.Action, time.Since(start))
	return nil
}

// Metrics holds Prometheus metrics for audit emission. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Emitted         *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	PersistDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Emitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idchain_audit_events_emitted_total",
			Help: "Audit events persisted, by action",
		}, []string{"action"}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idchain_audit_persist_failures_total",
			Help: "Audit events that failed to persist, by action",
		}, []string{"action"}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "idchain_audit_persist_duration_seconds",
			Help:    "Time spent persisting an audit event",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observe(action string, d time.Duration) {
	if m == nil {
		return
	}
	m.Emitted.WithLabelValues(action).Inc()
	m.PersistDuration.Observe(d.Seconds())
}

func (m *Metrics) incPersistFailures(action string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(action).Inc()
}
