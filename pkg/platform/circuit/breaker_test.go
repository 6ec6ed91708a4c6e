package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

// fail records n failures and reports whether any of them opened the breaker.
func fail(b *Breaker, n int) (opened bool) {
	for range n {
		_, change := b.RecordFailure()
		opened = opened || change.Opened
	}
	return opened
}

func TestNewBreakerStartsClosed(t *testing.T) {
	b := New("ledger-status")

	assert.Equal(t, "ledger-status", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.False(t, b.IsOpen())
	assert.True(t, b.Allow())
}

func TestBreakerThresholds(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		failures  int
		wantOpen  bool
	}{
		{name: "below threshold", threshold: 3, failures: 2, wantOpen: false},
		{name: "at threshold", threshold: 3, failures: 3, wantOpen: true},
		{name: "default threshold", threshold: 0, failures: defaultFailureThreshold, wantOpen: true},
		{name: "one short of default", threshold: 0, failures: defaultFailureThreshold - 1, wantOpen: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("ledger-status", WithFailureThreshold(tt.threshold))
			opened := fail(b, tt.failures)
			assert.Equal(t, tt.wantOpen, opened)
			assert.Equal(t, tt.wantOpen, b.IsOpen())
		})
	}
}

func TestRecordFailureWhileOpen(t *testing.T) {
	b := New("ledger-status", WithFailureThreshold(1))

	useFallback, change := b.RecordFailure()
	require.True(t, change.Opened)
	assert.True(t, useFallback)

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.Equal(t, StateChange{}, change)
}

func TestSuccessClearsConsecutiveFailures(t *testing.T) {
	b := New("ledger-status", WithFailureThreshold(3))

	fail(b, 2)
	usePrimary, change := b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.Equal(t, StateChange{}, change)

	assert.False(t, fail(b, 2))
	assert.True(t, fail(b, 1))
}

func TestRecovery(t *testing.T) {
	b := New("ledger-status", WithFailureThreshold(1), WithSuccessThreshold(2))
	fail(b, 1)

	usePrimary, change := b.RecordSuccess()
	assert.False(t, usePrimary)
	assert.False(t, change.Closed)
	assert.True(t, b.IsOpen())

	// An interleaved failure restarts the success count.
	fail(b, 1)
	b.RecordSuccess()
	assert.True(t, b.IsOpen())

	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
	assert.Equal(t, StateClosed, b.State())
}

func TestReset(t *testing.T) {
	b := New("ledger-status", WithFailureThreshold(2))
	fail(b, 2)
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.False(t, fail(b, 1))
}

func TestAllowHonorsCooldown(t *testing.T) {
	c := newClock()
	b := New("ledger-status", WithFailureThreshold(1), WithCooldown(30*time.Second))
	b.now = c.now

	fail(b, 1)
	assert.False(t, b.Allow())

	c.advance(29 * time.Second)
	assert.False(t, b.Allow())

	c.advance(2 * time.Second)
	assert.True(t, b.Allow())

	// A failed trial call restarts the cooldown.
	fail(b, 1)
	assert.False(t, b.Allow())
}

func TestZeroCooldownOnlyTracksState(t *testing.T) {
	b := New("ledger-status", WithFailureThreshold(1))
	fail(b, 1)

	assert.True(t, b.IsOpen())
	assert.True(t, b.Allow())
}
