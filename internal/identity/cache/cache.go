// Package cache keeps on-chain identity details close to the service.
// Enumerating an identity costs one contract call per verification entry, so
// reads go through a TTL cache and concurrent misses for the same user share a
// single ledger enumeration.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"idchain/internal/ledger"
)

const defaultFetchTimeout = 10 * time.Second

// Source reads identity details from the ledger.
type Source interface {
	GetIdentityDetails(ctx context.Context, userID string) (*ledger.IdentityDetails, error)
}

// Store holds cached details keyed by user id.
type Store interface {
	Get(ctx context.Context, userID string) (*ledger.IdentityDetails, bool, error)
	Set(ctx context.Context, userID string, details *ledger.IdentityDetails, ttl time.Duration) error
	Delete(ctx context.Context, userID string) error
}

// Reader serves identity details from Store, falling back to Source. Returned
// values are shared between callers and must not be modified.
type Reader struct {
	source       Source
	store        Store
	ttl          time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
	metrics      *Metrics

	group singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64
}

type Option func(*Reader)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) { r.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Reader) { r.metrics = m }
}

// WithFetchTimeout bounds a shared ledger enumeration. It runs detached from
// the caller that started it.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Reader) { r.fetchTimeout = d }
}

func NewReader(source Source, store Store, ttl time.Duration, opts ...Option) *Reader {
	r := &Reader{
		source:       source,
		store:        store,
		ttl:          ttl,
		fetchTimeout: defaultFetchTimeout,
		logger:       slog.Default(),
		generations:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetIdentityDetails returns the cached details of userID, reading the ledger
// on a miss. Store failures degrade to a ledger read.
func (r *Reader) GetIdentityDetails(ctx context.Context, userID string) (*ledger.IdentityDetails, error) {
	details, ok, err := r.store.Get(ctx, userID)
	switch {
	case err != nil:
		r.logger.WarnContext(ctx, "identity cache read failed", "user_id", userID, "error", err)
	case ok:
		r.metrics.IncrementHit()
		return details, nil
	}
	r.metrics.IncrementMiss()

	ch := r.group.DoChan(userID, func() (any, error) {
		return r.fetch(ctx, userID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ledger.IdentityDetails), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Reader) fetch(ctx context.Context, userID string) (*ledger.IdentityDetails, error) {
	gen := r.generation(userID)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
	defer cancel()
	details, err := r.source.GetIdentityDetails(ctx, userID)
	if err != nil {
		return nil, err
	}

	// An invalidation during the read means details may predate a write.
	if r.generation(userID) != gen {
		return details, nil
	}
	if err := r.store.Set(ctx, userID, details, r.ttl); err != nil {
		r.logger.WarnContext(ctx, "identity cache write failed", "user_id", userID, "error", err)
	}
	return details, nil
}

func (r *Reader) generation(userID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[userID]
}

// Invalidate drops the cached details of userID. Reads already in flight do
// not repopulate the cache.
func (r *Reader) Invalidate(ctx context.Context, userID string) {
	r.mu.Lock()
	r.generations[userID]++
	r.mu.Unlock()
	r.group.Forget(userID)

	if err := r.store.Delete(ctx, userID); err != nil {
		r.logger.WarnContext(ctx, "identity cache invalidation failed", "user_id", userID, "error", err)
	}
}
