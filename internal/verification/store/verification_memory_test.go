package store

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"idchain/internal/verification/models"
	id "idchain/pkg/domain"
	"idchain/pkg/platform/sentinel"
)

type InMemoryVerificationStoreSuite struct {
	suite.Suite
	store *InMemoryVerifications
	ctx   context.Context
	base  time.Time
}

func TestInMemoryVerificationStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryVerificationStoreSuite))
}

func (s *InMemoryVerificationStoreSuite) SetupTest() {
	s.store = NewInMemoryVerifications()
	s.ctx = context.Background()
	s.base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *InMemoryVerificationStoreSuite) pending(userID id.UserID, kind string, offset time.Duration) *models.Verification {
	v := &models.Verification{
		ID:         id.NewVerificationID(),
		UserID:     userID,
		VerifierID: id.NewVerifierID(),
		Kind:       kind,
		Status:     models.StatusPending,
		CreatedAt:  s.base.Add(offset),
		UpdatedAt:  s.base.Add(offset),
	}
	s.Require().NoError(s.store.CreatePending(s.ctx, v))
	return v
}

func (s *InMemoryVerificationStoreSuite) TestCreatePending() {
	userID := id.NewUserID()
	first := s.pending(userID, "kyc", 0)

	s.Run("duplicate pending kind conflicts", func() {
		dup := *first
		dup.ID = id.NewVerificationID()
		s.ErrorIs(s.store.CreatePending(s.ctx, &dup), sentinel.ErrConflict)
	})

	s.Run("other kind is allowed", func() {
		s.pending(userID, "aml", time.Second)
	})

	s.Run("new request after the pending one is decided", func() {
		_, err := s.store.UpdateUnclaimed(s.ctx, first.ID, models.StatusPending, models.StatusRejected, nil, s.base)
		s.Require().NoError(err)
		s.pending(userID, "kyc", 2*time.Second)
	})
}

func (s *InMemoryVerificationStoreSuite) TestListings() {
	userID := id.NewUserID()
	older := s.pending(userID, "kyc", 0)
	newer := s.pending(userID, "aml", time.Minute)
	s.pending(id.NewUserID(), "kyc", 2*time.Minute)

	s.Run("by user newest first", func() {
		list, err := s.store.ListByUser(s.ctx, userID)
		s.Require().NoError(err)
		s.Require().Len(list, 2)
		s.Equal(newer.ID, list[0].ID)
		s.Equal(older.ID, list[1].ID)
	})

	s.Run("latest for user", func() {
		latest, err := s.store.LatestForUser(s.ctx, userID)
		s.Require().NoError(err)
		s.Equal(newer.ID, latest.ID)

		_, err = s.store.LatestForUser(s.ctx, id.NewUserID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("same creation time resolves to the highest id", func() {
		tied := id.NewUserID()
		a := s.pending(tied, "kyc", time.Hour)
		b := s.pending(tied, "aml", time.Hour)
		want, other := a.ID, b.ID
		if bytes.Compare(b.ID[:], a.ID[:]) > 0 {
			want, other = b.ID, a.ID
		}

		for range 20 {
			latest, err := s.store.LatestForUser(s.ctx, tied)
			s.Require().NoError(err)
			s.Equal(want, latest.ID)

			list, err := s.store.ListByUser(s.ctx, tied)
			s.Require().NoError(err)
			s.Require().Len(list, 2)
			s.Equal(other, list[1].ID)
		}
	})

	s.Run("pending by verifier", func() {
		list, err := s.store.ListPendingByVerifier(s.ctx, older.VerifierID)
		s.Require().NoError(err)
		s.Require().Len(list, 1)
		s.Equal(older.ID, list[0].ID)
	})
}

func (s *InMemoryVerificationStoreSuite) TestClaimLifecycle() {
	v := s.pending(id.NewUserID(), "kyc", 0)

	claimed, err := s.store.Claim(s.ctx, v.ID, s.base)
	s.Require().NoError(err)
	s.True(claimed.Claim.Held())

	s.Run("second claim conflicts", func() {
		_, err := s.store.Claim(s.ctx, v.ID, s.base.Add(time.Hour))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("local transitions are blocked while claimed", func() {
		_, err := s.store.UpdateUnclaimed(s.ctx, v.ID, models.StatusPending, models.StatusRejected, nil, s.base)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("tx hash recorded on the claim", func() {
		hash := "0x" + strings.Repeat("1", 64)
		s.Require().NoError(s.store.RecordClaimTx(s.ctx, v.ID, hash))
		got, err := s.store.FindByID(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(hash, got.Claim.TxHash)
	})

	s.Run("stale claims listed before cutoff only", func() {
		stale, err := s.store.ListStaleClaims(s.ctx, s.base.Add(time.Minute), 10)
		s.Require().NoError(err)
		s.Len(stale, 1)

		stale, err = s.store.ListStaleClaims(s.ctx, s.base, 10)
		s.Require().NoError(err)
		s.Empty(stale)
	})

	s.Run("commit approves and drops the claim", func() {
		notes := "checked"
		got, err := s.store.CommitApproval(s.ctx, v.ID, "0xabc", &notes, s.base.Add(time.Second))
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, got.Status)
		s.Equal("0xabc", got.TxHash)
		s.Equal("checked", got.Notes)
		s.False(got.Claim.Held())
	})

	s.Run("commit is at most once", func() {
		_, err := s.store.CommitApproval(s.ctx, v.ID, "0xdef", nil, s.base)
		s.ErrorIs(err, sentinel.ErrConflict)
	})
}

func (s *InMemoryVerificationStoreSuite) TestReleaseClaim() {
	v := s.pending(id.NewUserID(), "kyc", 0)

	s.ErrorIs(s.store.ReleaseClaim(s.ctx, v.ID), sentinel.ErrConflict)

	_, err := s.store.Claim(s.ctx, v.ID, s.base)
	s.Require().NoError(err)
	s.Require().NoError(s.store.ReleaseClaim(s.ctx, v.ID))

	_, err = s.store.Claim(s.ctx, v.ID, s.base)
	s.NoError(err)
}

func (s *InMemoryVerificationStoreSuite) TestUpdateUnclaimed() {
	v := s.pending(id.NewUserID(), "kyc", 0)

	s.Run("status mismatch conflicts", func() {
		_, err := s.store.UpdateUnclaimed(s.ctx, v.ID, models.StatusApproved, models.StatusApproved, nil, s.base)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("nil notes keep existing notes", func() {
		notes := "first"
		_, err := s.store.UpdateUnclaimed(s.ctx, v.ID, models.StatusPending, models.StatusPending, &notes, s.base)
		s.Require().NoError(err)
		got, err := s.store.UpdateUnclaimed(s.ctx, v.ID, models.StatusPending, models.StatusRejected, nil, s.base)
		s.Require().NoError(err)
		s.Equal("first", got.Notes)
		s.Equal(models.StatusRejected, got.Status)
	})

	s.Run("unknown record", func() {
		_, err := s.store.UpdateUnclaimed(s.ctx, id.NewVerificationID(), models.StatusPending, models.StatusRejected, nil, s.base)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

type InMemoryVerifierStoreSuite struct {
	suite.Suite
	store *InMemoryVerifiers
	ctx   context.Context
}

func TestInMemoryVerifierStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryVerifierStoreSuite))
}

func (s *InMemoryVerifierStoreSuite) SetupTest() {
	s.store = NewInMemoryVerifiers()
	s.ctx = context.Background()
}

func (s *InMemoryVerifierStoreSuite) create(name, addrDigit, keyHash string, createdAt time.Time) *models.Verifier {
	v := &models.Verifier{
		ID:           id.NewVerifierID(),
		Name:         name,
		ChainAddress: "0x" + strings.Repeat(addrDigit, 40),
		APIKeyHash:   keyHash,
		Active:       true,
		CreatedAt:    createdAt,
	}
	s.Require().NoError(s.store.Create(s.ctx, v))
	return v
}

func (s *InMemoryVerifierStoreSuite) TestCreateAndLookup() {
	now := time.Now()
	v := s.create("acme", "a", "hash-a", now)

	s.Run("by api key hash", func() {
		got, err := s.store.FindByAPIKeyHash(s.ctx, "hash-a")
		s.Require().NoError(err)
		s.Equal(v.ID, got.ID)

		_, err = s.store.FindByAPIKeyHash(s.ctx, "missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("address taken", func() {
		dup := *v
		dup.ID = id.NewVerifierID()
		dup.APIKeyHash = "hash-other"
		s.ErrorIs(s.store.Create(s.ctx, &dup), sentinel.ErrConflict)
	})
}

func (s *InMemoryVerifierStoreSuite) TestFirstActive() {
	now := time.Now()

	_, err := s.store.FirstActive(s.ctx)
	s.ErrorIs(err, sentinel.ErrNotFound)

	first := s.create("first", "a", "hash-a", now)
	second := s.create("second", "b", "hash-b", now.Add(time.Second))

	got, err := s.store.FirstActive(s.ctx)
	s.Require().NoError(err)
	s.Equal(first.ID, got.ID)

	s.Require().NoError(s.store.SetActive(s.ctx, first.ID, false))
	got, err = s.store.FirstActive(s.ctx)
	s.Require().NoError(err)
	s.Equal(second.ID, got.ID)

	s.ErrorIs(s.store.SetActive(s.ctx, id.NewVerifierID(), false), sentinel.ErrNotFound)
}
