// Package service implements the verification lifecycle.
//
// A record is created pending and decided once by its assigned verifier.
// Approval writes to the ledger before the local commit, so a local
// "approved" always has a confirmed ledger entry behind it. The write is
// guarded by a per-record claim taken with a compare-and-set: at most one
// request submits the ledger transaction for a record, and a record whose
// outcome is unknown stays claimed until Reconcile resolves it.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"idchain/internal/auth/guard"
	"idchain/internal/ledger"
	usermodels "idchain/internal/users/models"
	"idchain/internal/verification/metrics"
	"idchain/internal/verification/models"
	id "idchain/pkg/domain"
	dErrors "idchain/pkg/domain-errors"
	"idchain/pkg/platform/address"
	audit "idchain/pkg/platform/audit"
	"idchain/pkg/platform/secrets"
	"idchain/pkg/platform/sentinel"
	"idchain/pkg/platform/tx"
	"idchain/pkg/requestcontext"
)

const (
	maxKindLength  = 64
	maxNotesLength = 1000
	maxNameLength  = 128
)

type VerificationStore interface {
	CreatePending(ctx context.Context, v *models.Verification) error
	FindByID(ctx context.Context, vid id.VerificationID) (*models.Verification, error)
	ListByUser(ctx context.Context, userID id.UserID) ([]*models.Verification, error)
	ListPendingByVerifier(ctx context.Context, verifierID id.VerifierID) ([]*models.Verification, error)
	ListStaleClaims(ctx context.Context, before time.Time, limit int) ([]*models.Verification, error)
	Claim(ctx context.Context, vid id.VerificationID, now time.Time) (*models.Verification, error)
	ReleaseClaim(ctx context.Context, vid id.VerificationID) error
	RecordClaimTx(ctx context.Context, vid id.VerificationID, txHash string) error
	UpdateUnclaimed(ctx context.Context, vid id.VerificationID, from, to models.Status, notes *string, now time.Time) (*models.Verification, error)
	CommitApproval(ctx context.Context, vid id.VerificationID, txHash string, notes *string, now time.Time) (*models.Verification, error)
}

type VerifierStore interface {
	Create(ctx context.Context, v *models.Verifier) error
	FindByID(ctx context.Context, verifierID id.VerifierID) (*models.Verifier, error)
	FirstActive(ctx context.Context) (*models.Verifier, error)
	SetActive(ctx context.Context, verifierID id.VerifierID, active bool) error
}

type UserStore interface {
	FindByID(ctx context.Context, userID id.UserID) (*usermodels.User, error)
	MarkVerified(ctx context.Context, userID id.UserID, now time.Time) error
}

// Ledger is the subset of the ledger client used by the lifecycle.
type Ledger interface {
	VerifyIdentity(ctx context.Context, userID, verifierAddress, kind string) (string, error)
	CheckVerificationStatus(ctx context.Context, userID, kind string) (bool, error)
	FindVerificationTx(ctx context.Context, userID, kind string) (string, error)
	TransactionStatus(ctx context.Context, txHash string) (ledger.TxStatus, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

type Service struct {
	verifications VerificationStore
	verifiers     VerifierStore
	users         UserStore
	ledger        Ledger
	tx            tx.Runner
	logger        *slog.Logger
	auditor       AuditPublisher
	metrics       *metrics.Metrics
	cache         CacheInvalidator
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

func New(verifications VerificationStore, verifiers VerifierStore, users UserStore, ledger Ledger, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		verifications: verifications,
		verifiers:     verifiers,
		users:         users,
		ledger:        ledger,
		tx:            runner,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestVerification opens a pending request of kind for the caller and
// assigns it to the first active verifier.
func (s *Service) RequestVerification(ctx context.Context, p *id.Principal, userID id.UserID, kind, notes string) (*models.Verification, error) {
	if err := guard.RequireSelf(p, userID); err != nil {
		return nil, err
	}
	kind = strings.TrimSpace(kind)
	if kind == "" || len(kind) > maxKindLength {
		return nil, dErrors.New(dErrors.CodeValidation, "verification_type is required and must be at most 64 characters")
	}
	if len(notes) > maxNotesLength {
		return nil, dErrors.New(dErrors.CodeValidation, "notes must be at most 1000 characters")
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return nil, translateStoreErr(err, "user not found", "failed to load user")
	}

	verifier, err := s.verifiers.FirstActive(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnavailable, "no active verifier is available")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to assign verifier")
	}

	now := requestcontext.Now(ctx)
	v := &models.Verification{
		ID:         id.NewVerificationID(),
		UserID:     userID,
		VerifierID: verifier.ID,
		Kind:       kind,
		Status:     models.StatusPending,
		Notes:      notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.verifications.CreatePending(ctx, v); err != nil {
			return err
		}
		return s.emit(ctx, audit.Event{
			UserID:  userID,
			Subject: v.ID.String(),
			Action:  string(audit.EventVerificationRequested),
			Kind:    kind,
			ActorID: verifier.ID.String(),
		})
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "a pending verification of this type already exists")
		}
		return nil, translateStoreErr(err, "verification not found", "failed to create verification")
	}
	s.metrics.IncrementRequested()
	s.logger.InfoContext(ctx, "verification requested",
		"request_id", requestcontext.RequestID(ctx),
		"verification_id", v.ID,
		"user_id", userID,
		"verifier_id", verifier.ID,
		"kind", kind,
	)
	return v, nil
}

// UpdateRequest is a verifier's decision on a record. Nil Notes keep the
// current notes. TxHash, when set on an approval, is stored instead of the
// hash of the ledger write.
type UpdateRequest struct {
	VerificationID id.VerificationID
	Status         string
	Notes          *string
	TxHash         string
}

// UpdateStatus applies a verifier's decision. Approving a pending record
// writes to the ledger first; if the write fails the record is unchanged.
func (s *Service) UpdateStatus(ctx context.Context, p *id.Principal, req UpdateRequest) (*models.Verification, error) {
	verifier, err := guard.RequireActiveVerifier(p)
	if err != nil {
		return nil, err
	}
	rec, err := s.find(ctx, req.VerificationID)
	if err != nil {
		return nil, err
	}
	if rec.VerifierID != verifier.VerifierID {
		return nil, dErrors.New(dErrors.CodeForbidden, "verification is assigned to another verifier")
	}
	to, err := models.ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}
	if req.Notes != nil && len(*req.Notes) > maxNotesLength {
		return nil, dErrors.New(dErrors.CodeValidation, "notes must be at most 1000 characters")
	}
	req.TxHash = strings.TrimSpace(req.TxHash)
	if req.TxHash != "" && !address.IsTxHash(req.TxHash) {
		return nil, dErrors.New(dErrors.CodeValidation, "transaction_hash must be 0x followed by 64 hex characters")
	}

	transition, err := rec.CheckTransition(to)
	if err != nil {
		s.metrics.ObserveTransition(string(to), string(dErrors.CodeInvalidState))
		return nil, err
	}

	var updated *models.Verification
	switch transition {
	case models.TransitionApprove:
		updated, err = s.approve(ctx, verifier, rec, req)
	case models.TransitionLocal:
		if req.TxHash != "" {
			return nil, dErrors.New(dErrors.CodeValidation, "transaction_hash is only accepted when approving")
		}
		updated, err = s.decideLocally(ctx, verifier, rec, to, req.Notes)
	default:
		updated, err = s.touch(ctx, rec, req.Notes)
	}
	if err != nil {
		s.metrics.ObserveTransition(string(to), string(dErrors.CodeOf(err)))
		return nil, err
	}
	s.metrics.ObserveTransition(string(to), "ok")
	return updated, nil
}

// approve claims the record, writes the verification to the ledger and
// commits the approval. The ledger call is detached from caller cancellation:
// once submitted the write cannot be withdrawn, so its outcome is always
// awaited and recorded.
func (s *Service) approve(ctx context.Context, verifier *id.Principal, rec *models.Verification, req UpdateRequest) (*models.Verification, error) {
	if _, err := s.verifications.Claim(ctx, rec.ID, requestcontext.Now(ctx)); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "verification is being updated by another request")
		}
		return nil, translateStoreErr(err, "verification not found", "failed to claim verification")
	}

	ctx = context.WithoutCancel(ctx)
	ledgerTx, err := s.ledger.VerifyIdentity(ctx, rec.UserID.String(), verifier.ChainAddress, rec.Kind)
	if err != nil {
		return nil, s.ledgerWriteFailed(ctx, rec, err)
	}

	txHash := ledgerTx
	if req.TxHash != "" {
		txHash = req.TxHash
	}
	updated, err := s.commitApproval(ctx, rec, txHash, req.Notes, verifier.VerifierID.String())
	if err != nil {
		// The ledger holds the verification but the local commit failed.
		// Leave the claim with the ledger hash for Reconcile.
		if rerr := s.verifications.RecordClaimTx(ctx, rec.ID, ledgerTx); rerr != nil {
			s.logger.ErrorContext(ctx, "failed to record ledger tx on claim",
				"verification_id", rec.ID,
				"tx_hash", ledgerTx,
				"error", rerr,
			)
		}
		s.logger.ErrorContext(ctx, "approval commit failed after ledger write",
			"request_id", requestcontext.RequestID(ctx),
			"verification_id", rec.ID,
			"user_id", rec.UserID,
			"tx_hash", ledgerTx,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "verification was written to the ledger but could not be saved; it will be reconciled")
	}

	s.logger.InfoContext(ctx, "verification approved",
		"request_id", requestcontext.RequestID(ctx),
		"verification_id", rec.ID,
		"user_id", rec.UserID,
		"kind", rec.Kind,
		"tx_hash", txHash,
	)
	return updated, nil
}

// commitApproval approves a claimed record, marks the user verified and
// records the audit event in one transaction.
func (s *Service) commitApproval(ctx context.Context, rec *models.Verification, txHash string, notes *string, actor string) (*models.Verification, error) {
	var updated *models.Verification
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		var err error
		updated, err = s.verifications.CommitApproval(ctx, rec.ID, txHash, notes, now)
		if err != nil {
			return err
		}
		if err := s.users.MarkVerified(ctx, rec.UserID, now); err != nil {
			return err
		}
		return s.emit(ctx, audit.Event{
			UserID:  rec.UserID,
			Subject: rec.ID.String(),
			Action:  string(audit.EventVerificationApproved),
			Kind:    rec.Kind,
			TxHash:  txHash,
			ActorID: actor,
		})
	})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, rec.UserID.String())
	}
	return updated, nil
}

// ledgerWriteFailed settles the claim after a failed write and maps the
// ledger error. An unconfirmed write keeps its claim so the record cannot be
// approved twice.
func (s *Service) ledgerWriteFailed(ctx context.Context, rec *models.Verification, err error) error {
	kind := ledger.KindOf(err)
	txHash := ledger.TxHashOf(err)

	var settleErr error
	if kind == ledger.KindUnconfirmed {
		if txHash != "" {
			settleErr = s.verifications.RecordClaimTx(ctx, rec.ID, txHash)
		}
	} else {
		settleErr = s.verifications.ReleaseClaim(ctx, rec.ID)
	}
	if settleErr != nil {
		s.logger.ErrorContext(ctx, "failed to settle verification claim",
			"verification_id", rec.ID,
			"error", settleErr,
		)
	}

	s.metrics.IncrementLedgerFailure(string(kind))
	s.logger.ErrorContext(ctx, "ledger verification write failed",
		"request_id", requestcontext.RequestID(ctx),
		"op", "verify_identity",
		"verification_id", rec.ID,
		"user_id", rec.UserID,
		"kind", rec.Kind,
		"error_kind", kind,
		"tx_hash", txHash,
		"error", err,
	)
	s.emitBestEffort(ctx, audit.Event{
		UserID:  rec.UserID,
		Subject: rec.ID.String(),
		Action:  string(audit.EventLedgerWriteFailed),
		Kind:    rec.Kind,
		TxHash:  txHash,
		Reason:  "verify_identity: " + string(kind),
	})
	return translateLedgerErr(err)
}

// decideLocally applies pending to pending or rejected. No ledger call.
func (s *Service) decideLocally(ctx context.Context, verifier *id.Principal, rec *models.Verification, to models.Status, notes *string) (*models.Verification, error) {
	var updated *models.Verification
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.verifications.UpdateUnclaimed(ctx, rec.ID, rec.Status, to, notes, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if to != models.StatusRejected {
			return nil
		}
		return s.emit(ctx, audit.Event{
			UserID:  rec.UserID,
			Subject: rec.ID.String(),
			Action:  string(audit.EventVerificationRejected),
			Kind:    rec.Kind,
			ActorID: verifier.VerifierID.String(),
		})
	})
	if err != nil {
		return nil, translateUpdateErr(err)
	}
	return updated, nil
}

// touch handles a terminal record kept in its status: only notes change.
func (s *Service) touch(ctx context.Context, rec *models.Verification, notes *string) (*models.Verification, error) {
	if notes == nil {
		return rec, nil
	}
	updated, err := s.verifications.UpdateUnclaimed(ctx, rec.ID, rec.Status, rec.Status, notes, requestcontext.Now(ctx))
	if err != nil {
		return nil, translateUpdateErr(err)
	}
	return updated, nil
}

// ListPending returns the calling verifier's pending queue.
func (s *Service) ListPending(ctx context.Context, p *id.Principal) ([]*models.Verification, error) {
	verifier, err := guard.RequireActiveVerifier(p)
	if err != nil {
		return nil, err
	}
	list, err := s.verifications.ListPendingByVerifier(ctx, verifier.VerifierID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending verifications")
	}
	return list, nil
}

// ListForUser returns the user's own requests, newest first.
func (s *Service) ListForUser(ctx context.Context, p *id.Principal, userID id.UserID) ([]*models.Verification, error) {
	if err := guard.RequireSelf(p, userID); err != nil {
		return nil, err
	}
	list, err := s.verifications.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list verifications")
	}
	return list, nil
}

// Get returns a record to its owner or to its assigned verifier.
func (s *Service) Get(ctx context.Context, p *id.Principal, vid id.VerificationID) (*models.Verification, error) {
	if p == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	rec, err := s.find(ctx, vid)
	if err != nil {
		return nil, err
	}
	if p.Kind == id.PrincipalVerifier {
		verifier, err := guard.RequireActiveVerifier(p)
		if err != nil {
			return nil, err
		}
		if rec.VerifierID != verifier.VerifierID {
			return nil, dErrors.New(dErrors.CodeForbidden, "verification is assigned to another verifier")
		}
		return rec, nil
	}
	if err := guard.RequireSelf(p, rec.UserID); err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateVerifier registers a verifier and returns its API key. Only the
// lookup hash of the key is stored, so the key cannot be shown again.
func (s *Service) CreateVerifier(ctx context.Context, name, chainAddress string) (*models.Verifier, string, error) {
	name = strings.TrimSpace(name)
	chainAddress = address.Normalize(chainAddress)
	if name == "" || len(name) > maxNameLength {
		return nil, "", dErrors.New(dErrors.CodeValidation, "name is required and must be at most 128 characters")
	}
	if !address.IsValid(chainAddress) {
		return nil, "", dErrors.New(dErrors.CodeValidation, "chain_address must be a 0x-prefixed 40 hex character address")
	}

	apiKey, err := secrets.Generate()
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate api key")
	}
	v := &models.Verifier{
		ID:           id.NewVerifierID(),
		Name:         name,
		ChainAddress: chainAddress,
		APIKeyHash:   secrets.LookupHash(apiKey),
		Active:       true,
		CreatedAt:    requestcontext.Now(ctx),
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.verifiers.Create(ctx, v); err != nil {
			return err
		}
		return s.emit(ctx, audit.Event{
			Subject: v.ID.String(),
			Action:  string(audit.EventVerifierCreated),
		})
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, "", dErrors.New(dErrors.CodeConflict, "a verifier with this chain address already exists")
		}
		return nil, "", translateStoreErr(err, "verifier not found", "failed to create verifier")
	}
	s.logger.InfoContext(ctx, "verifier created",
		"request_id", requestcontext.RequestID(ctx),
		"verifier_id", v.ID,
	)
	return v, apiKey, nil
}

// SetVerifierActive enables or disables a verifier. Records already
// assigned to a disabled verifier stay with it.
func (s *Service) SetVerifierActive(ctx context.Context, verifierID id.VerifierID, active bool) (*models.Verifier, error) {
	if err := s.verifiers.SetActive(ctx, verifierID, active); err != nil {
		return nil, translateStoreErr(err, "verifier not found", "failed to update verifier")
	}
	v, err := s.verifiers.FindByID(ctx, verifierID)
	if err != nil {
		return nil, translateStoreErr(err, "verifier not found", "failed to load verifier")
	}
	return v, nil
}

func (s *Service) find(ctx context.Context, vid id.VerificationID) (*models.Verification, error) {
	rec, err := s.verifications.FindByID(ctx, vid)
	if err != nil {
		return nil, translateStoreErr(err, "verification not found", "failed to load verification")
	}
	return rec, nil
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

func translateLedgerErr(err error) error {
	switch ledger.KindOf(err) {
	case ledger.KindUnreachable:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger is unreachable; the verification was not approved")
	case ledger.KindUnconfirmed:
		return dErrors.Wrap(err, dErrors.CodeTimeout, "ledger write was submitted but not confirmed; the verification will be reconciled")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger write failed; the verification was not approved")
	}
}

// translateUpdateErr maps a lost compare-and-set to a conflict.
func translateUpdateErr(err error) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeConflict, "verification was changed by another request")
	}
	return translateStoreErr(err, "verification not found", "failed to update verification")
}

func translateStoreErr(err error, notFound, internal string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFound)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "conflicting update")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, internal)
	}
}
