//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idchain/internal/ledger"
	"idchain/pkg/testutil/containers"
)

func TestRedisStore(t *testing.T) {
	rc := containers.Redis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))
	s := NewRedis(rc.Client)

	_, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	want := &ledger.IdentityDetails{
		IdentityHash: "0xabc",
		Owner:        "0x1111111111111111111111111111111111111111",
		Exists:       true,
		Verifications: []ledger.OnChainVerification{
			{Kind: "KYC", Verifier: "0x2222222222222222222222222222222222222222", Timestamp: time.Unix(1700000000, 0).UTC()},
		},
	}
	require.NoError(t, s.Set(ctx, "u1", want, time.Minute))

	got, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	ttl, err := rc.Client.TTL(ctx, keyPrefix+"u1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, s.Delete(ctx, "u1"))
	_, ok, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}
