package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idchain/internal/ledger"
	"idchain/internal/platform/logger"
)

type countingSource struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	err     error
}

func (s *countingSource) GetIdentityDetails(_ context.Context, userID string) (*ledger.IdentityDetails, error) {
	s.calls.Add(1)
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return nil, s.err
	}
	return &ledger.IdentityDetails{IdentityHash: "0x" + userID, Exists: true}, nil
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*ledger.IdentityDetails, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingStore) Set(context.Context, string, *ledger.IdentityDetails, time.Duration) error {
	return errors.New("cache down")
}

func (failingStore) Delete(context.Context, string) error { return errors.New("cache down") }

func TestInMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemory()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "u1", &ledger.IdentityDetails{Exists: true}, time.Minute))
	_, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReaderCachesDetails(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{}
	r := NewReader(src, NewInMemory(), time.Minute, WithLogger(logger.Discard()))

	first, err := r.GetIdentityDetails(ctx, "u1")
	require.NoError(t, err)
	second, err := r.GetIdentityDetails(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), src.calls.Load())

	r.Invalidate(ctx, "u1")
	_, err = r.GetIdentityDetails(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestReaderCollapsesConcurrentMisses(t *testing.T) {
	src := &countingSource{started: make(chan struct{}, 1), release: make(chan struct{})}
	r := NewReader(src, NewInMemory(), time.Minute, WithLogger(logger.Discard()))

	const n = 8
	var wg sync.WaitGroup
	results := make([]*ledger.IdentityDetails, n)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = r.GetIdentityDetails(context.Background(), "u1")
	}()
	<-src.started
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = r.GetIdentityDetails(context.Background(), "u1")
		}()
	}
	// Let the followers join the in-flight read.
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for _, d := range results {
		require.NotNil(t, d)
		assert.Equal(t, "0xu1", d.IdentityHash)
	}
}

func TestInvalidateDuringReadSkipsCaching(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{started: make(chan struct{}, 1), release: make(chan struct{})}
	store := NewInMemory()
	r := NewReader(src, store, time.Minute, WithLogger(logger.Discard()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.GetIdentityDetails(ctx, "u1")
	}()
	<-src.started
	r.Invalidate(ctx, "u1")
	close(src.release)
	<-done

	_, ok, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReaderDegradesOnStoreFailure(t *testing.T) {
	src := &countingSource{}
	r := NewReader(src, failingStore{}, time.Minute, WithLogger(logger.Discard()))

	d, err := r.GetIdentityDetails(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, d.Exists)
	r.Invalidate(context.Background(), "u1")
}

func TestReaderDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{err: errors.New("node down")}
	r := NewReader(src, NewInMemory(), time.Minute, WithLogger(logger.Discard()))

	_, err := r.GetIdentityDetails(ctx, "u1")
	require.Error(t, err)

	src.err = nil
	d, err := r.GetIdentityDetails(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, d.Exists)
	assert.Equal(t, int32(2), src.calls.Load())
}
