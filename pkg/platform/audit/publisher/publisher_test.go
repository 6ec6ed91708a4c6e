package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "idchain/pkg/domain"
	audit "idchain/pkg/platform/audit"
	"idchain/pkg/platform/audit/store/memory"
	"idchain/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error { return errors.New("disk full") }

func TestPublisher_Emit(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store)

	userID := id.NewUserID()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithRequestID(ctx, "req-1")

	err := pub.Emit(ctx, audit.Event{
		UserID: userID,
		Action: string(audit.EventVerificationApproved),
	})
	require.NoError(t, err)

	events, err := store.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.Equal(t, now, events[0].Timestamp)
	assert.Equal(t, "req-1", events[0].RequestID)
}

func TestPublisher_RequiresAction(t *testing.T) {
	pub := New(memory.NewInMemoryStore())
	require.Error(t, pub.Emit(context.Background(), audit.Event{UserID: id.NewUserID()}))
}

func TestPublisher_FailsClosed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	pub := New(failingStore{}, WithMetrics(m))

	err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventLedgerWriteFailed)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailures.WithLabelValues(string(audit.EventLedgerWriteFailed))))
}

func TestAuditEvent_Category(t *testing.T) {
	assert.Equal(t, audit.CategorySecurity, audit.EventLedgerWriteFailed.Category())
	assert.Equal(t, audit.CategoryOperations, audit.AuditEvent("something_else").Category())
}
