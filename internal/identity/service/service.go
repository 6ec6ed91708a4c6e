// Package service reports a user's identity status. Local verification
// records are authoritative for the status; ledger data only enriches the
// view and never fails it. The ledger read endpoints, in contrast, surface
// ledger errors to the caller.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"idchain/internal/auth/guard"
	"idchain/internal/identity/models"
	"idchain/internal/ledger"
	usermodels "idchain/internal/users/models"
	vmodels "idchain/internal/verification/models"
	id "idchain/pkg/domain"
	dErrors "idchain/pkg/domain-errors"
	"idchain/pkg/platform/address"
	"idchain/pkg/platform/circuit"
	"idchain/pkg/platform/sentinel"
	"idchain/pkg/requestcontext"
)

const defaultStatusTimeout = 2 * time.Second

type UserStore interface {
	FindByID(ctx context.Context, userID id.UserID) (*usermodels.User, error)
}

type VerificationStore interface {
	LatestForUser(ctx context.Context, userID id.UserID) (*vmodels.Verification, error)
}

// Ledger is the part of the ledger client the aggregator reads.
type Ledger interface {
	IdentityHash(userID string) (string, error)
	ContractAddress() string
	CheckVerificationStatus(ctx context.Context, userID, kind string) (bool, error)
}

// DetailsReader enumerates on-chain identity details, usually through the
// identity cache.
type DetailsReader interface {
	GetIdentityDetails(ctx context.Context, userID string) (*ledger.IdentityDetails, error)
}

type Aggregator struct {
	users         UserStore
	verifications VerificationStore
	ledger        Ledger
	details       DetailsReader
	statusTimeout time.Duration
	breaker       *circuit.Breaker
	logger        *slog.Logger
}

type Option func(*Aggregator)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// WithStatusTimeout bounds the on-chain status check of GetIdentityStatus. A
// non-positive value disables the check.
func WithStatusTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.statusTimeout = d }
}

// WithBreaker skips the on-chain status check while the node keeps failing.
func WithBreaker(b *circuit.Breaker) Option {
	return func(a *Aggregator) { a.breaker = b }
}

func New(users UserStore, verifications VerificationStore, l Ledger, details DetailsReader, opts ...Option) *Aggregator {
	a := &Aggregator{
		users:         users,
		verifications: verifications,
		ledger:        l,
		details:       details,
		statusTimeout: defaultStatusTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetIdentityStatus reports the caller's identity status from the most recent
// verification record, enriched with ledger data where available.
func (a *Aggregator) GetIdentityStatus(ctx context.Context, p *id.Principal, userID id.UserID) (*models.StatusView, error) {
	if err := guard.RequireSelf(p, userID); err != nil {
		return nil, err
	}
	user, err := a.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := &models.StatusView{
		UserID:       userID,
		Status:       models.StatusPending,
		ChainAddress: reportedAddress(user.ChainAddress),
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
		Ledger:       models.LedgerInfo{ContractAddress: a.ledger.ContractAddress()},
	}

	latest, err := a.verifications.LatestForUser(ctx, userID)
	switch {
	case err == nil:
		view.Status = models.StatusFrom(latest.Status)
		view.Ledger.TxHash = latest.TxHash
		view.Ledger.RecordedAt = latest.CreatedAt
	case errors.Is(err, sentinel.ErrNotFound):
		latest = nil
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verifications")
	}

	if hash, err := a.ledger.IdentityHash(userID.String()); err != nil {
		a.logger.WarnContext(ctx, "identity hash unavailable",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID,
			"error", err,
		)
	} else {
		view.IdentityHash = hash
	}

	if latest != nil {
		view.VerifiedOnChain = a.checkOnChain(ctx, userID, latest.Kind)
	}
	return view, nil
}

// checkOnChain asks the ledger whether kind is verified for the user. Any failure,
// including the timeout, leaves the answer absent.
func (a *Aggregator) checkOnChain(ctx context.Context, userID id.UserID, kind string) *bool {
	if a.statusTimeout <= 0 {
		return nil
	}
	if a.breaker != nil && !a.breaker.Allow() {
		return nil
	}
	checkCtx, cancel := context.WithTimeout(ctx, a.statusTimeout)
	defer cancel()

	verified, err := a.ledger.CheckVerificationStatus(checkCtx, userID.String(), kind)
	if err != nil {
		a.logger.InfoContext(ctx, "on-chain status unavailable",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID,
			"verification_type", kind,
			"error_kind", ledger.KindOf(err),
		)
		if ctx.Err() == nil {
			a.recordCheck(ctx, false)
		}
		return nil
	}
	a.recordCheck(ctx, true)
	return &verified
}

func (a *Aggregator) recordCheck(ctx context.Context, ok bool) {
	if a.breaker == nil {
		return
	}
	if ok {
		if _, change := a.breaker.RecordSuccess(); change.Closed {
			a.logger.InfoContext(ctx, "ledger status check resumed", "breaker", a.breaker.Name())
		}
		return
	}
	if _, change := a.breaker.RecordFailure(); change.Opened {
		a.logger.WarnContext(ctx, "ledger status check suspended", "breaker", a.breaker.Name())
	}
}

// LedgerIdentity returns the caller's on-chain identity details.
func (a *Aggregator) LedgerIdentity(ctx context.Context, p *id.Principal, userID id.UserID) (*ledger.IdentityDetails, error) {
	if err := guard.RequireSelf(p, userID); err != nil {
		return nil, err
	}
	if _, err := a.findUser(ctx, userID); err != nil {
		return nil, err
	}
	details, err := a.details.GetIdentityDetails(ctx, userID.String())
	if err != nil {
		return nil, a.translateLedgerErr(ctx, "get_identity_details", userID, err)
	}
	return details, nil
}

// LedgerVerificationStatus reports whether the ledger holds a verification
// of kind for the caller.
func (a *Aggregator) LedgerVerificationStatus(ctx context.Context, p *id.Principal, userID id.UserID, kind string) (bool, error) {
	if err := guard.RequireSelf(p, userID); err != nil {
		return false, err
	}
	kind = strings.TrimSpace(kind)
	if kind == "" || len(kind) > 64 {
		return false, dErrors.New(dErrors.CodeValidation, "verification_type is required and must be at most 64 characters")
	}
	verified, err := a.ledger.CheckVerificationStatus(ctx, userID.String(), kind)
	if err != nil {
		return false, a.translateLedgerErr(ctx, "check_verification_status", userID, err)
	}
	return verified, nil
}

func (a *Aggregator) findUser(ctx context.Context, userID id.UserID) (*usermodels.User, error) {
	user, err := a.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	return user, nil
}

func (a *Aggregator) translateLedgerErr(ctx context.Context, op string, userID id.UserID, err error) error {
	a.logger.ErrorContext(ctx, "ledger read failed",
		"request_id", requestcontext.RequestID(ctx),
		"op", op,
		"user_id", userID,
		"error_kind", ledger.KindOf(err),
		"error", err,
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "ledger read timed out")
	case ledger.KindOf(err) == ledger.KindUnreachable:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger is unreachable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger read failed")
	}
}

func reportedAddress(addr string) string {
	if address.IsValid(addr) {
		return addr
	}
	return models.ZeroAddress
}
