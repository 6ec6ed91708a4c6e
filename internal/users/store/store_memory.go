package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"idchain/internal/users/models"
	id "idchain/pkg/domain"
	"idchain/pkg/platform/sentinel"
)

// ConflictError reports which unique field rejected a write. It matches
// sentinel.ErrConflict under errors.Is.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already registered", e.Field)
}

func (e *ConflictError) Is(target error) bool {
	return target == sentinel.ErrConflict
}

// InMemory is a mutex-guarded user and document store.
type InMemory struct {
	mu        sync.RWMutex
	users     map[id.UserID]*models.User
	documents map[id.UserID][]*models.Document
}

func NewInMemory() *InMemory {
	return &InMemory{
		users:     make(map[id.UserID]*models.User),
		documents: make(map[id.UserID][]*models.Document),
	}
}

func (s *InMemory) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		switch {
		case u.Username == user.Username:
			return &ConflictError{Field: "username"}
		case u.Email == user.Email:
			return &ConflictError{Field: "email"}
		case user.IDNumber != "" && u.IDNumber == user.IDNumber:
			return &ConflictError{Field: "id_number"}
		case user.ChainAddress != "" && strings.EqualFold(u.ChainAddress, user.ChainAddress):
			return &ConflictError{Field: "chain_address"}
		}
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *InMemory) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *InMemory) FindByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// SetChainAddress sets the address of a user that has none yet.
func (s *InMemory) SetChainAddress(_ context.Context, userID id.UserID, addr string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if u.ChainAddress != "" {
		return sentinel.ErrInvalidState
	}
	for otherID, other := range s.users {
		if otherID != userID && strings.EqualFold(other.ChainAddress, addr) {
			return &ConflictError{Field: "chain_address"}
		}
	}
	u.ChainAddress = addr
	u.UpdatedAt = now
	return nil
}

// UpdateProfile overwrites the non-empty fields of the user's profile.
func (s *InMemory) UpdateProfile(_ context.Context, userID id.UserID, fullName, idNumber string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if idNumber != "" {
		for otherID, other := range s.users {
			if otherID != userID && other.IDNumber == idNumber {
				return &ConflictError{Field: "id_number"}
			}
		}
		u.IDNumber = idNumber
	}
	if fullName != "" {
		u.FullName = fullName
	}
	u.UpdatedAt = now
	return nil
}

func (s *InMemory) MarkVerified(_ context.Context, userID id.UserID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return sentinel.ErrNotFound
	}
	u.Verified = true
	u.UpdatedAt = now
	return nil
}

func (s *InMemory) AddDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[doc.UserID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *doc
	s.documents[doc.UserID] = append(s.documents[doc.UserID], &cp)
	return nil
}

// ListDocuments returns the user's documents, oldest first.
func (s *InMemory) ListDocuments(_ context.Context, userID id.UserID) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.documents[userID]
	out := make([]*models.Document, 0, len(docs))
	for _, d := range docs {
		cp := *d
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
