package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"idchain/internal/verification/models"
	id "idchain/pkg/domain"
	"idchain/pkg/platform/sentinel"
)

// InMemoryVerifications is a mutex-guarded verification store. Every
// conditional update checks and writes under one lock.
type InMemoryVerifications struct {
	mu      sync.RWMutex
	records map[id.VerificationID]*models.Verification
}

func NewInMemoryVerifications() *InMemoryVerifications {
	return &InMemoryVerifications{records: make(map[id.VerificationID]*models.Verification)}
}

// CreatePending inserts v unless the user already has a pending request of
// the same kind.
func (s *InMemoryVerifications) CreatePending(_ context.Context, v *models.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.UserID == v.UserID && r.Kind == v.Kind && r.Status == models.StatusPending {
			return sentinel.ErrConflict
		}
	}
	cp := *v
	s.records[v.ID] = &cp
	return nil
}

func (s *InMemoryVerifications) FindByID(_ context.Context, vid id.VerificationID) (*models.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[vid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ListByUser returns the user's requests, newest first. Records created at
// the same instant are ordered by descending id, as in Postgres.
func (s *InMemoryVerifications) ListByUser(_ context.Context, userID id.UserID) ([]*models.Verification, error) {
	out := s.filter(func(v *models.Verification) bool { return v.UserID == userID })
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i], out[j]) })
	return out, nil
}

func newerFirst(a, b *models.Verification) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) > 0
}

// LatestForUser returns the user's most recently created request.
func (s *InMemoryVerifications) LatestForUser(ctx context.Context, userID id.UserID) (*models.Verification, error) {
	list, _ := s.ListByUser(ctx, userID)
	if len(list) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return list[0], nil
}

// ListPendingByVerifier returns the verifier's queue, oldest first.
func (s *InMemoryVerifications) ListPendingByVerifier(_ context.Context, verifierID id.VerifierID) ([]*models.Verification, error) {
	out := s.filter(func(v *models.Verification) bool {
		return v.VerifierID == verifierID && v.Status == models.StatusPending
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListStaleClaims returns pending records claimed before the cutoff.
func (s *InMemoryVerifications) ListStaleClaims(_ context.Context, before time.Time, limit int) ([]*models.Verification, error) {
	out := s.filter(func(v *models.Verification) bool {
		return v.Status == models.StatusPending && v.Claim.Held() && v.Claim.At.Before(before)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Claim.At.Before(out[j].Claim.At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Claim takes the ledger-write claim on a pending, unclaimed record.
func (s *InMemoryVerifications) Claim(_ context.Context, vid id.VerificationID, now time.Time) (*models.Verification, error) {
	return s.update(vid, func(r *models.Verification) bool {
		return r.Status == models.StatusPending && !r.Claim.Held()
	}, func(r *models.Verification) {
		r.Claim = models.Claim{At: now}
	})
}

// ReleaseClaim drops a claim so the record can be acted on again.
func (s *InMemoryVerifications) ReleaseClaim(_ context.Context, vid id.VerificationID) error {
	_, err := s.update(vid, func(r *models.Verification) bool {
		return r.Status == models.StatusPending && r.Claim.Held()
	}, func(r *models.Verification) {
		r.Claim = models.Claim{}
	})
	return err
}

// RecordClaimTx stores the hash of a submitted but unconfirmed write.
func (s *InMemoryVerifications) RecordClaimTx(_ context.Context, vid id.VerificationID, txHash string) error {
	_, err := s.update(vid, func(r *models.Verification) bool {
		return r.Status == models.StatusPending && r.Claim.Held()
	}, func(r *models.Verification) {
		r.Claim.TxHash = txHash
	})
	return err
}

// UpdateUnclaimed moves an unclaimed record from one status to another. A nil
// notes leaves the notes unchanged.
func (s *InMemoryVerifications) UpdateUnclaimed(_ context.Context, vid id.VerificationID, from, to models.Status, notes *string, now time.Time) (*models.Verification, error) {
	return s.update(vid, func(r *models.Verification) bool {
		return r.Status == from && !r.Claim.Held()
	}, func(r *models.Verification) {
		r.Status = to
		if notes != nil {
			r.Notes = *notes
		}
		r.UpdatedAt = now
	})
}

// CommitApproval approves a claimed pending record and drops the claim.
func (s *InMemoryVerifications) CommitApproval(_ context.Context, vid id.VerificationID, txHash string, notes *string, now time.Time) (*models.Verification, error) {
	return s.update(vid, func(r *models.Verification) bool {
		return r.Status == models.StatusPending && r.Claim.Held()
	}, func(r *models.Verification) {
		r.Status = models.StatusApproved
		r.TxHash = txHash
		if notes != nil {
			r.Notes = *notes
		}
		r.UpdatedAt = now
		r.Claim = models.Claim{}
	})
}

func (s *InMemoryVerifications) update(vid id.VerificationID, cond func(*models.Verification) bool, apply func(*models.Verification)) (*models.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[vid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !cond(r) {
		return nil, sentinel.ErrConflict
	}
	apply(r)
	cp := *r
	return &cp, nil
}

func (s *InMemoryVerifications) filter(keep func(*models.Verification) bool) []*models.Verification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Verification
	for _, r := range s.records {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}
