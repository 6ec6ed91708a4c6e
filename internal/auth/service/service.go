// Package service turns presented credentials into principals: passwords into
// access tokens, access tokens into user principals, and API keys into
// verifier principals.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"idchain/internal/auth/token"
	usermodels "idchain/internal/users/models"
	vmodels "idchain/internal/verification/models"
	id "idchain/pkg/domain"
	dErrors "idchain/pkg/domain-errors"
	"idchain/pkg/platform/secrets"
	"idchain/pkg/platform/sentinel"
	"idchain/pkg/requestcontext"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks idchain/internal/auth/service UserStore,VerifierStore,Tokens

type UserStore interface {
	FindByID(ctx context.Context, userID id.UserID) (*usermodels.User, error)
	FindByUsername(ctx context.Context, username string) (*usermodels.User, error)
}

type VerifierStore interface {
	FindByAPIKeyHash(ctx context.Context, hash string) (*vmodels.Verifier, error)
}

type Tokens interface {
	Issue(userID id.UserID, username string) (string, error)
	Validate(tokenString string) (id.UserID, *token.Claims, error)
}

type Service struct {
	users     UserStore
	verifiers VerifierStore
	tokens    Tokens
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(users UserStore, verifiers VerifierStore, tokens Tokens, opts ...Option) *Service {
	s := &Service{
		users:     users,
		verifiers: verifiers,
		tokens:    tokens,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var errInvalidCredentials = dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")

// Authenticate checks a username and password and issues an access token.
// Unknown users and wrong passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, *usermodels.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", nil, dErrors.New(dErrors.CodeValidation, "username and password are required")
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.InfoContext(ctx, "login rejected",
				"request_id", requestcontext.RequestID(ctx),
				"reason", "unknown_user",
			)
			return "", nil, errInvalidCredentials
		}
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	if err := secrets.Verify(password, user.PasswordHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.logger.InfoContext(ctx, "login rejected",
				"request_id", requestcontext.RequestID(ctx),
				"user_id", user.ID,
				"reason", "bad_password",
			)
			return "", nil, errInvalidCredentials
		}
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify password")
	}

	accessToken, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}
	s.logger.InfoContext(ctx, "user logged in",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", user.ID,
	)
	return accessToken, user, nil
}

// PrincipalFromToken validates a bearer token and resolves it to a user
// principal. Tokens of deleted users are rejected.
func (s *Service) PrincipalFromToken(ctx context.Context, accessToken string) (*id.Principal, error) {
	userID, _, err := s.tokens.Validate(accessToken)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	return id.UserPrincipal(userID), nil
}

// VerifierFromAPIKey resolves an API key to an active verifier principal.
func (s *Service) VerifierFromAPIKey(ctx context.Context, apiKey string) (*id.Principal, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "api key is required")
	}
	v, err := s.verifiers.FindByAPIKeyHash(ctx, secrets.LookupHash(apiKey))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid api key")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verifier")
	}
	if !v.Active {
		s.logger.WarnContext(ctx, "inactive verifier presented api key",
			"request_id", requestcontext.RequestID(ctx),
			"verifier_id", v.ID,
		)
		return nil, dErrors.New(dErrors.CodeUnauthorized, "verifier is not active")
	}
	return id.VerifierPrincipal(v.ID, v.ChainAddress, true), nil
}
