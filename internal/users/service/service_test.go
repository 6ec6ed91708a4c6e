package service

//go:generate mockgen -destination=mocks/mocks.go -package=mocks idchain/internal/users/service Ledger,CacheInvalidator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"idchain/internal/ledger"
	"idchain/internal/platform/logger"
	"idchain/internal/users/service/mocks"
	"idchain/internal/users/store"
	id "idchain/pkg/domain"
	dErrors "idchain/pkg/domain-errors"
	audit "idchain/pkg/platform/audit"
	"idchain/pkg/platform/audit/publisher"
	auditmemory "idchain/pkg/platform/audit/store/memory"
	"idchain/pkg/platform/tx"
)

type UserServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	ledger  *mocks.MockLedger
	cache   *mocks.MockCacheInvalidator
	users   *store.InMemory
	audits  *auditmemory.InMemoryStore
	service *Service
	ctx     context.Context
}

func TestUserServiceSuite(t *testing.T) {
	suite.Run(t, new(UserServiceSuite))
}

func (s *UserServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.ledger = mocks.NewMockLedger(s.ctrl)
	s.cache = mocks.NewMockCacheInvalidator(s.ctrl)
	s.users = store.NewInMemory()
	s.audits = auditmemory.NewInMemoryStore()
	s.service = New(s.users, s.ledger, tx.NewLockRunner(time.Second),
		WithLogger(logger.Discard()),
		WithAuditPublisher(publisher.New(s.audits)),
		WithCacheInvalidator(s.cache),
	)
	s.ctx = context.Background()
}

func (s *UserServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func validAddress(c string) string { return "0x" + strings.Repeat(c, 40) }

func (s *UserServiceSuite) register(username, addr string) RegisterRequest {
	return RegisterRequest{
		Username:     username,
		Email:        username + "@Example.com",
		Password:     "correct horse battery",
		FullName:     "  " + username + "  ",
		ChainAddress: addr,
	}
}

func (s *UserServiceSuite) TestRegister() {
	s.Run("without address never touches the ledger", func() {
		user, err := s.service.Register(s.ctx, s.register("alice", ""))
		s.Require().NoError(err)
		s.Equal("alice@example.com", user.Email)
		s.Equal("alice", user.FullName)
		s.NotEqual("correct horse battery", user.PasswordHash)
		s.Contains(s.audits.Actions(), string(audit.EventUserRegistered))
	})

	s.Run("with address registers the identity", func() {
		s.audits.Clear()
		addr := validAddress("a")
		s.ledger.EXPECT().RegisterIdentity(gomock.Any(), gomock.Any(), addr).Return("0xfeed", nil)
		s.cache.EXPECT().Invalidate(gomock.Any(), gomock.Any())

		user, err := s.service.Register(s.ctx, s.register("bob", addr))
		s.Require().NoError(err)
		s.Equal(addr, user.ChainAddress)
		s.Equal([]string{string(audit.EventUserRegistered), string(audit.EventIdentityRegistered)}, s.audits.Actions())
	})

	s.Run("ledger failure does not fail registration", func() {
		s.audits.Clear()
		addr := validAddress("b")
		s.ledger.EXPECT().RegisterIdentity(gomock.Any(), gomock.Any(), addr).
			Return("", &ledger.Error{Kind: ledger.KindUnreachable, Op: "register_identity"})

		user, err := s.service.Register(s.ctx, s.register("carol", addr))
		s.Require().NoError(err)

		stored, err := s.users.FindByID(s.ctx, user.ID)
		s.Require().NoError(err)
		s.Equal(addr, stored.ChainAddress)
		s.Equal([]string{string(audit.EventUserRegistered), string(audit.EventLedgerWriteFailed)}, s.audits.Actions())
	})

	s.Run("duplicate username conflicts", func() {
		_, err := s.service.Register(s.ctx, RegisterRequest{
			Username: "alice", Email: "other@example.com", Password: "correct horse battery",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(err.Error(), "username")
	})
}

func (s *UserServiceSuite) TestRegisterValidation() {
	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"short username", RegisterRequest{Username: "al", Email: "al@example.com", Password: "password1"}},
		{"bad email", RegisterRequest{Username: "alice", Email: "not-an-email", Password: "password1"}},
		{"short password", RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "short"}},
		{"bad address", RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "password1", ChainAddress: "0x123"}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.Register(s.ctx, tt.req)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
		})
	}
}

func (s *UserServiceSuite) TestGetIsSelfOnly() {
	alice, err := s.service.Register(s.ctx, s.register("alice", ""))
	s.Require().NoError(err)
	bob, err := s.service.Register(s.ctx, s.register("bob", ""))
	s.Require().NoError(err)

	got, err := s.service.Get(s.ctx, id.UserPrincipal(alice.ID), alice.ID)
	s.Require().NoError(err)
	s.Equal("alice", got.Username)

	_, err = s.service.Get(s.ctx, id.UserPrincipal(alice.ID), bob.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.Get(s.ctx, nil, alice.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	me, err := s.service.Me(s.ctx, id.UserPrincipal(bob.ID))
	s.Require().NoError(err)
	s.Equal(bob.ID, me.ID)

	_, err = s.service.Me(s.ctx, id.UserPrincipal(id.NewUserID()))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *UserServiceSuite) TestClaimAddress() {
	alice, err := s.service.Register(s.ctx, s.register("alice", ""))
	s.Require().NoError(err)
	bob, err := s.service.Register(s.ctx, s.register("bob", ""))
	s.Require().NoError(err)
	p := id.UserPrincipal(alice.ID)
	addr := validAddress("c")

	s.Run("rejects malformed address", func() {
		_, err := s.service.ClaimAddress(s.ctx, p, "0xnothex")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("claims once and registers on the ledger", func() {
		s.ledger.EXPECT().RegisterIdentity(gomock.Any(), alice.ID.String(), addr).Return("0xbeef", nil)
		s.cache.EXPECT().Invalidate(gomock.Any(), alice.ID.String())

		user, err := s.service.ClaimAddress(s.ctx, p, addr)
		s.Require().NoError(err)
		s.Equal(addr, user.ChainAddress)
	})

	s.Run("address is immutable", func() {
		_, err := s.service.ClaimAddress(s.ctx, p, validAddress("d"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("address is unique", func() {
		_, err := s.service.ClaimAddress(s.ctx, id.UserPrincipal(bob.ID), addr)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *UserServiceSuite) TestChainAddressCase() {
	mixed := "0x" + strings.Repeat("aB", 20)
	lower := "0x" + strings.Repeat("ab", 20)

	s.Run("stored and registered in lowercase", func() {
		s.ledger.EXPECT().RegisterIdentity(gomock.Any(), gomock.Any(), lower).Return("0xfeed", nil)
		s.cache.EXPECT().Invalidate(gomock.Any(), gomock.Any())

		user, err := s.service.Register(s.ctx, s.register("alice", " "+mixed+" "))
		s.Require().NoError(err)
		s.Equal(lower, user.ChainAddress)

		stored, err := s.users.FindByID(s.ctx, user.ID)
		s.Require().NoError(err)
		s.Equal(lower, stored.ChainAddress)
	})

	s.Run("registration with another case conflicts", func() {
		_, err := s.service.Register(s.ctx, s.register("bob", "0x"+strings.Repeat("AB", 20)))
		s.True(dErrors.HasCode(err, dErrors.CodeConflict), "got %v", err)
		s.Contains(err.Error(), "chain_address")
	})

	s.Run("claim with another case conflicts", func() {
		carol, err := s.service.Register(s.ctx, s.register("carol", ""))
		s.Require().NoError(err)
		_, err = s.service.ClaimAddress(s.ctx, id.UserPrincipal(carol.ID), lower)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict), "got %v", err)
	})

	s.Run("uppercase prefix is still rejected", func() {
		_, err := s.service.Register(s.ctx, s.register("dave", "0X"+strings.Repeat("cd", 20)))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
	})
}

func (s *UserServiceSuite) TestUpdateProfile() {
	req := s.register("alice", "")
	req.IDNumber = "ID-1"
	alice, err := s.service.Register(s.ctx, req)
	s.Require().NoError(err)
	req = s.register("bob", "")
	req.IDNumber = "ID-2"
	_, err = s.service.Register(s.ctx, req)
	s.Require().NoError(err)
	p := id.UserPrincipal(alice.ID)

	s.Run("updates the name and keeps the id number", func() {
		s.audits.Clear()
		user, err := s.service.UpdateProfile(s.ctx, p, ProfileUpdate{FullName: "  Alice Liddell "})
		s.Require().NoError(err)
		s.Equal("Alice Liddell", user.FullName)
		s.Equal("ID-1", user.IDNumber)
		s.Equal([]string{string(audit.EventProfileUpdated)}, s.audits.Actions())
	})

	s.Run("empty update returns the current profile", func() {
		s.audits.Clear()
		user, err := s.service.UpdateProfile(s.ctx, p, ProfileUpdate{FullName: " "})
		s.Require().NoError(err)
		s.Equal("Alice Liddell", user.FullName)
		s.Empty(s.audits.Actions())
	})

	s.Run("id number held by another user conflicts", func() {
		_, err := s.service.UpdateProfile(s.ctx, p, ProfileUpdate{IDNumber: "ID-2"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict), "got %v", err)
		s.Contains(err.Error(), "id_number")
	})

	s.Run("changes the id number", func() {
		user, err := s.service.UpdateProfile(s.ctx, p, ProfileUpdate{IDNumber: "ID-3"})
		s.Require().NoError(err)
		s.Equal("ID-3", user.IDNumber)
	})

	s.Run("field lengths are bounded", func() {
		_, err := s.service.UpdateProfile(s.ctx, p, ProfileUpdate{FullName: strings.Repeat("x", 256)})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.service.UpdateProfile(s.ctx, p, ProfileUpdate{IDNumber: strings.Repeat("9", 65)})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("requires a user principal", func() {
		_, err := s.service.UpdateProfile(s.ctx, nil, ProfileUpdate{FullName: "x"})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

		verifier := id.VerifierPrincipal(id.NewVerifierID(), validAddress("e"), true)
		_, err = s.service.UpdateProfile(s.ctx, verifier, ProfileUpdate{FullName: "x"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "got %v", err)
	})
}

func (s *UserServiceSuite) TestDocuments() {
	alice, err := s.service.Register(s.ctx, s.register("alice", ""))
	s.Require().NoError(err)
	p := id.UserPrincipal(alice.ID)

	doc, err := s.service.UploadDocument(s.ctx, p, DocumentRequest{Type: "passport", DocumentHash: "sha256:abc"})
	s.Require().NoError(err)
	s.Equal("pending", doc.Status)

	_, err = s.service.UploadDocument(s.ctx, p, DocumentRequest{Type: "passport"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	docs, err := s.service.ListDocuments(s.ctx, p, alice.ID)
	s.Require().NoError(err)
	s.Len(docs, 1)

	_, err = s.service.ListDocuments(s.ctx, id.UserPrincipal(id.NewUserID()), alice.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}
