// Package worker runs background verification maintenance.
package worker

import (
	"context"
	"log/slog"
	"time"

	"idchain/internal/verification/service"
)

// Reconciler is the service operation the worker drives.
type Reconciler interface {
	Reconcile(ctx context.Context, staleBefore time.Time) (service.ReconcileResult, error)
}

// ReconcileWorker periodically resolves verification claims older than the
// claim TTL.
type ReconcileWorker struct {
	reconciler Reconciler
	logger     *slog.Logger
	interval   time.Duration
	claimTTL   time.Duration
	now        func() time.Time
}

func NewReconcileWorker(reconciler Reconciler, logger *slog.Logger, interval, claimTTL time.Duration) *ReconcileWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if claimTTL <= 0 {
		claimTTL = 5 * time.Minute
	}
	return &ReconcileWorker{
		reconciler: reconciler,
		logger:     logger,
		interval:   interval,
		claimTTL:   claimTTL,
		now:        time.Now,
	}
}

// Run reconciles once at start and then every interval until ctx is
// cancelled.
func (w *ReconcileWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *ReconcileWorker) runOnce(ctx context.Context) {
	if _, err := w.reconciler.Reconcile(ctx, w.now().Add(-w.claimTTL)); err != nil && ctx.Err() == nil {
		w.logger.ErrorContext(ctx, "verification reconcile failed", "error", err)
	}
}
