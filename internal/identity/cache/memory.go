package cache

import (
	"context"
	"sync"
	"time"

	"idchain/internal/ledger"
)

type entry struct {
	details   *ledger.IdentityDetails
	expiresAt time.Time
}

// InMemory is a process-local Store.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]entry), now: time.Now}
}

func (s *InMemory) Get(_ context.Context, userID string) (*ledger.IdentityDetails, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[userID]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return e.details, true, nil
}

func (s *InMemory) Set(_ context.Context, userID string, details *ledger.IdentityDetails, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = entry{details: details, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *InMemory) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}
