package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"idchain/internal/verification/models"
	id "idchain/pkg/domain"
	"idchain/pkg/platform/sentinel"
)

type InMemoryVerifiers struct {
	mu        sync.RWMutex
	verifiers map[id.VerifierID]*models.Verifier
}

func NewInMemoryVerifiers() *InMemoryVerifiers {
	return &InMemoryVerifiers{verifiers: make(map[id.VerifierID]*models.Verifier)}
}

// Create inserts v unless its chain address or API key is taken.
func (s *InMemoryVerifiers) Create(_ context.Context, v *models.Verifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.verifiers {
		if strings.EqualFold(existing.ChainAddress, v.ChainAddress) || existing.APIKeyHash == v.APIKeyHash {
			return sentinel.ErrConflict
		}
	}
	cp := *v
	s.verifiers[v.ID] = &cp
	return nil
}

func (s *InMemoryVerifiers) FindByID(_ context.Context, verifierID id.VerifierID) (*models.Verifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verifiers[verifierID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *InMemoryVerifiers) FindByAPIKeyHash(_ context.Context, hash string) (*models.Verifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.verifiers {
		if v.APIKeyHash == hash {
			cp := *v
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// FirstActive returns the earliest created active verifier.
func (s *InMemoryVerifiers) FirstActive(_ context.Context) (*models.Verifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []*models.Verifier
	for _, v := range s.verifiers {
		if v.Active {
			active = append(active, v)
		}
	}
	if len(active) == 0 {
		return nil, sentinel.ErrNotFound
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })
	cp := *active[0]
	return &cp, nil
}

// SetActive toggles a verifier.
func (s *InMemoryVerifiers) SetActive(_ context.Context, verifierID id.VerifierID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.verifiers[verifierID]
	if !ok {
		return sentinel.ErrNotFound
	}
	v.Active = active
	return nil
}
