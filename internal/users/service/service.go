package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"

	"idchain/internal/auth/guard"
	"idchain/internal/ledger"
	"idchain/internal/platform/metrics"
	"idchain/internal/users/models"
	"idchain/internal/users/store"
	id "idchain/pkg/domain"
	dErrors "idchain/pkg/domain-errors"
	"idchain/pkg/platform/address"
	audit "idchain/pkg/platform/audit"
	"idchain/pkg/platform/secrets"
	"idchain/pkg/platform/sentinel"
	"idchain/pkg/platform/tx"
	"idchain/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	SetChainAddress(ctx context.Context, userID id.UserID, addr string, now time.Time) error
	UpdateProfile(ctx context.Context, userID id.UserID, fullName, idNumber string, now time.Time) error
	AddDocument(ctx context.Context, doc *models.Document) error
	ListDocuments(ctx context.Context, userID id.UserID) ([]*models.Document, error)
}

// Ledger registers a user's identity on chain.
type Ledger interface {
	RegisterIdentity(ctx context.Context, userID, chainAddress string) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// CacheInvalidator drops cached ledger views of a user.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// Service owns user registration, chain address claims and document metadata.
type Service struct {
	users   Store
	ledger  Ledger
	tx      tx.Runner
	logger  *slog.Logger
	auditor AuditPublisher
	metrics *metrics.Metrics
	cache   CacheInvalidator
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithCacheInvalidator(c CacheInvalidator) Option {
	return func(s *Service) { s.cache = c }
}

func New(users Store, ledger Ledger, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		users:  users,
		ledger: ledger,
		tx:     runner,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRequest is the input of Register. Fields are normalized in place.
type RegisterRequest struct {
	Username     string
	Email        string
	Password     string
	FullName     string
	ChainAddress string
	IDNumber     string
}

func (r *RegisterRequest) validate() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.FullName = strings.TrimSpace(r.FullName)
	r.ChainAddress = address.Normalize(r.ChainAddress)
	r.IDNumber = strings.TrimSpace(r.IDNumber)

	switch {
	case len(r.Username) < 3 || len(r.Username) > 64:
		return dErrors.New(dErrors.CodeValidation, "username must be between 3 and 64 characters")
	case !govalidator.IsEmail(r.Email):
		return dErrors.New(dErrors.CodeValidation, "email is invalid")
	case len(r.Password) < 8:
		return dErrors.New(dErrors.CodeValidation, "password must be at least 8 characters")
	case len(r.FullName) > 255:
		return dErrors.New(dErrors.CodeValidation, "full_name must be at most 255 characters")
	case len(r.IDNumber) > 64:
		return dErrors.New(dErrors.CodeValidation, "id_number must be at most 64 characters")
	case r.ChainAddress != "" && !address.IsValid(r.ChainAddress):
		return dErrors.New(dErrors.CodeValidation, "chain_address must be a 0x-prefixed 40 hex character address")
	}
	return nil
}

// Register creates a user. When an address is supplied the identity is
// registered on the ledger on a best-effort basis: a ledger failure is logged
// and audited but the user is still created.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	hash, err := secrets.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	user := &models.User{
		ID:           id.NewUserID(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		IDNumber:     req.IDNumber,
		ChainAddress: req.ChainAddress,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		return s.emit(ctx, audit.Event{
			UserID: user.ID,
			Action: string(audit.EventUserRegistered),
		})
	})
	if err != nil {
		return nil, translateStoreErr(err, "failed to create user")
	}
	s.metrics.IncrementUsersCreated()
	s.logger.InfoContext(ctx, "user registered",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", user.ID,
	)

	if user.HasChainAddress() {
		s.registerOnLedger(ctx, user.ID, user.ChainAddress)
	}
	return user, nil
}

// Get returns the caller's own user record.
func (s *Service) Get(ctx context.Context, p *id.Principal, userID id.UserID) (*models.User, error) {
	if err := guard.RequireSelf(p, userID); err != nil {
		return nil, err
	}
	return s.find(ctx, userID)
}

// Me returns the user record of the authenticated user.
func (s *Service) Me(ctx context.Context, p *id.Principal) (*models.User, error) {
	if p == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return s.Get(ctx, p, p.UserID)
}

// ClaimAddress sets the caller's chain address once, then registers the
// identity on the ledger on a best-effort basis.
func (s *Service) ClaimAddress(ctx context.Context, p *id.Principal, chainAddress string) (*models.User, error) {
	if p == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if err := guard.RequireSelf(p, p.UserID); err != nil {
		return nil, err
	}
	chainAddress = address.Normalize(chainAddress)
	if !address.IsValid(chainAddress) {
		return nil, dErrors.New(dErrors.CodeValidation, "chain_address must be a 0x-prefixed 40 hex character address")
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.users.SetChainAddress(ctx, p.UserID, chainAddress, requestcontext.Now(ctx)); err != nil {
			return err
		}
		return s.emit(ctx, audit.Event{
			UserID: p.UserID,
			Action: string(audit.EventAddressClaimed),
		})
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeInvalidState, "chain address is already set")
		}
		return nil, translateStoreErr(err, "failed to set chain address")
	}

	s.registerOnLedger(ctx, p.UserID, chainAddress)
	return s.find(ctx, p.UserID)
}

// ProfileUpdate carries optional profile changes. An empty field keeps the
// stored value.
type ProfileUpdate struct {
	FullName string
	IDNumber string
}

// UpdateProfile changes the caller's full name and ID number. The ID number
// stays unique across users.
func (s *Service) UpdateProfile(ctx context.Context, p *id.Principal, req ProfileUpdate) (*models.User, error) {
	if p == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if err := guard.RequireSelf(p, p.UserID); err != nil {
		return nil, err
	}
	req.FullName = strings.TrimSpace(req.FullName)
	req.IDNumber = strings.TrimSpace(req.IDNumber)
	switch {
	case len(req.FullName) > 255:
		return nil, dErrors.New(dErrors.CodeValidation, "full_name must be at most 255 characters")
	case len(req.IDNumber) > 64:
		return nil, dErrors.New(dErrors.CodeValidation, "id_number must be at most 64 characters")
	case req.FullName == "" && req.IDNumber == "":
		return s.find(ctx, p.UserID)
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.users.UpdateProfile(ctx, p.UserID, req.FullName, req.IDNumber, requestcontext.Now(ctx)); err != nil {
			return err
		}
		return s.emit(ctx, audit.Event{
			UserID: p.UserID,
			Action: string(audit.EventProfileUpdated),
		})
	})
	if err != nil {
		return nil, translateStoreErr(err, "failed to update profile")
	}
	s.logger.InfoContext(ctx, "user profile updated",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", p.UserID,
	)
	return s.find(ctx, p.UserID)
}

// DocumentRequest describes an uploaded identity document.
type DocumentRequest struct {
	Type         string
	DocumentHash string
	IPFSHash     string
}

func (s *Service) UploadDocument(ctx context.Context, p *id.Principal, req DocumentRequest) (*models.Document, error) {
	if p == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if err := guard.RequireSelf(p, p.UserID); err != nil {
		return nil, err
	}
	req.Type = strings.TrimSpace(req.Type)
	req.DocumentHash = strings.TrimSpace(req.DocumentHash)
	if req.Type == "" || len(req.Type) > 64 {
		return nil, dErrors.New(dErrors.CodeValidation, "document_type is required and must be at most 64 characters")
	}
	if req.DocumentHash == "" || len(req.DocumentHash) > 128 {
		return nil, dErrors.New(dErrors.CodeValidation, "document_hash is required and must be at most 128 characters")
	}

	doc := &models.Document{
		ID:           id.NewDocumentID(),
		UserID:       p.UserID,
		Type:         req.Type,
		DocumentHash: req.DocumentHash,
		IPFSHash:     strings.TrimSpace(req.IPFSHash),
		Status:       models.DocumentStatusPending,
		CreatedAt:    requestcontext.Now(ctx),
	}
	if err := s.users.AddDocument(ctx, doc); err != nil {
		return nil, translateStoreErr(err, "failed to store document")
	}
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, p *id.Principal, userID id.UserID) ([]*models.Document, error) {
	if err := guard.RequireSelf(p, userID); err != nil {
		return nil, err
	}
	docs, err := s.users.ListDocuments(ctx, userID)
	if err != nil {
		return nil, translateStoreErr(err, "failed to list documents")
	}
	return docs, nil
}

func (s *Service) find(ctx context.Context, userID id.UserID) (*models.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, translateStoreErr(err, "failed to load user")
	}
	return u, nil
}

// registerOnLedger is detached from caller cancellation so a submitted write
// is always awaited; the ledger client bounds it by its confirm timeout.
func (s *Service) registerOnLedger(ctx context.Context, userID id.UserID, chainAddress string) {
	ctx = context.WithoutCancel(ctx)
	txHash, err := s.ledger.RegisterIdentity(ctx, userID.String(), chainAddress)
	if err != nil {
		s.logger.ErrorContext(ctx, "ledger identity registration failed",
			"request_id", requestcontext.RequestID(ctx),
			"op", "register_identity",
			"user_id", userID,
			"error_kind", ledger.KindOf(err),
			"tx_hash", ledger.TxHashOf(err),
			"error", err,
		)
		s.emitBestEffort(ctx, audit.Event{
			UserID: userID,
			Action: string(audit.EventLedgerWriteFailed),
			TxHash: ledger.TxHashOf(err),
			Reason: "register_identity: " + string(ledger.KindOf(err)),
		})
		return
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID.String())
	}
	s.emitBestEffort(ctx, audit.Event{
		UserID: userID,
		Action: string(audit.EventIdentityRegistered),
		TxHash: txHash,
	})
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditor == nil {
		return nil
	}
	return s.auditor.Emit(ctx, event)
}

func (s *Service) emitBestEffort(ctx context.Context, event audit.Event) {
	if err := s.emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "user_id", event.UserID, "error", err)
	}
}

func translateStoreErr(err error, msg string) error {
	var ce *store.ConflictError
	switch {
	case errors.As(err, &ce):
		return dErrors.New(dErrors.CodeConflict, ce.Error())
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "user already exists")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "user not found")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
