package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idchain/internal/platform/logger"
	"idchain/internal/verification/service"
)

type fakeReconciler struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
	calls   chan struct{}
}

func (f *fakeReconciler) Reconcile(_ context.Context, staleBefore time.Time) (service.ReconcileResult, error) {
	f.mu.Lock()
	f.cutoffs = append(f.cutoffs, staleBefore)
	f.mu.Unlock()
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return service.ReconcileResult{}, f.err
}

func TestReconcileWorkerUsesClaimTTL(t *testing.T) {
	fake := &fakeReconciler{calls: make(chan struct{}, 1)}
	w := NewReconcileWorker(fake, logger.Discard(), time.Hour, 10*time.Minute)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-fake.calls:
	case <-time.After(time.Second):
		t.Fatal("reconcile was not called at start")
	}
	cancel()
	require.NoError(t, <-done)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.NotEmpty(t, fake.cutoffs)
	assert.Equal(t, fixed.Add(-10*time.Minute), fake.cutoffs[0])
}

func TestReconcileWorkerKeepsRunningAfterErrors(t *testing.T) {
	fake := &fakeReconciler{calls: make(chan struct{}, 1), err: errors.New("boom")}
	w := NewReconcileWorker(fake, logger.Discard(), 5*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for range 3 {
		select {
		case <-fake.calls:
		case <-time.After(time.Second):
			t.Fatal("worker stopped after an error")
		}
	}
	cancel()
	require.NoError(t, <-done)
}
