//go:build integration

// Package containers starts the backing services used by integration tests.
// Containers are shared across the test binary and reaped by Ryuk, so tests
// must clean their own data between runs.
package containers

import (
	"context"
	"sync"
	"testing"
)

type lazy[T any] struct {
	once sync.Once
	val  T
	err  error
}

func (l *lazy[T]) get(t *testing.T, start func(context.Context) (T, error)) T {
	t.Helper()
	l.once.Do(func() {
		l.val, l.err = start(context.Background())
	})
	if l.err != nil {
		t.Fatalf("container unavailable: %v", l.err)
	}
	return l.val
}

var (
	pg     lazy[*PostgresContainer]
	rd     lazy[*RedisContainer]
	broker lazy[*RedpandaContainer]
)

// Postgres returns the shared, migrated PostgreSQL container.
func Postgres(t *testing.T) *PostgresContainer { return pg.get(t, startPostgres) }

// Redis returns the shared Redis container.
func Redis(t *testing.T) *RedisContainer { return rd.get(t, startRedis) }

// Redpanda returns the shared Kafka-compatible broker.
func Redpanda(t *testing.T) *RedpandaContainer { return broker.get(t, startRedpanda) }
