package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"idchain/internal/identity/models"
	"idchain/internal/ledger"
	id "idchain/pkg/domain"
	"idchain/pkg/platform/httputil"
	"idchain/pkg/requestcontext"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks idchain/internal/identity/handler Service

// Service defines the identity reads exposed over HTTP.
type Service interface {
	GetIdentityStatus(ctx context.Context, p *id.Principal, userID id.UserID) (*models.StatusView, error)
	LedgerIdentity(ctx context.Context, p *id.Principal, userID id.UserID) (*ledger.IdentityDetails, error)
	LedgerVerificationStatus(ctx context.Context, p *id.Principal, userID id.UserID, kind string) (bool, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/api/verifications/identity-status/{userID}", h.HandleIdentityStatus)
	r.Get("/api/verifications/blockchain/status/{userID}/{kind}", h.HandleChainStatus)
	r.Get("/api/users/blockchain/identity/{userID}", h.HandleLedgerIdentity)
}

func (h *Handler) HandleIdentityStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.service.GetIdentityStatus(ctx, requestcontext.Principal(ctx), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromStatusView(view))
}

func (h *Handler) HandleChainStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	kind := chi.URLParam(r, "kind")
	verified, err := h.service.LedgerVerificationStatus(ctx, requestcontext.Principal(ctx), userID, kind)
	if err != nil {
		h.logger.WarnContext(ctx, "on-chain status check failed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &ChainStatusResponse{
		UserID:           userID.String(),
		VerificationType: kind,
		Verified:         verified,
	})
}

func (h *Handler) HandleLedgerIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	details, err := h.service.LedgerIdentity(ctx, requestcontext.Principal(ctx), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromIdentityDetails(details))
}
