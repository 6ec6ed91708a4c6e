package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"idchain/internal/verification/models"
	"idchain/internal/verification/service"
	id "idchain/pkg/domain"
	"idchain/pkg/platform/httputil"
	"idchain/pkg/requestcontext"
)

// Service defines the verification operations exposed over HTTP.
type Service interface {
	RequestVerification(ctx context.Context, p *id.Principal, userID id.UserID, kind, notes string) (*models.Verification, error)
	UpdateStatus(ctx context.Context, p *id.Principal, req service.UpdateRequest) (*models.Verification, error)
	ListPending(ctx context.Context, p *id.Principal) ([]*models.Verification, error)
	ListForUser(ctx context.Context, p *id.Principal, userID id.UserID) ([]*models.Verification, error)
	Get(ctx context.Context, p *id.Principal, vid id.VerificationID) (*models.Verification, error)
	CreateVerifier(ctx context.Context, name, chainAddress string) (*models.Verifier, string, error)
	SetVerifierActive(ctx context.Context, verifierID id.VerifierID, active bool) (*models.Verifier, error)
	Reconcile(ctx context.Context, staleBefore time.Time) (service.ReconcileResult, error)
}

type Handler struct {
	service  Service
	logger   *slog.Logger
	claimTTL time.Duration
}

// New builds the handler. claimTTL is how old a ledger claim must be before
// an on-demand reconcile touches it.
func New(service Service, logger *slog.Logger, claimTTL time.Duration) *Handler {
	return &Handler{service: service, logger: logger, claimTTL: claimTTL}
}

// Register mounts the user and verifier endpoints on r. Static paths are
// registered before the {verificationID} catch-all.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/verifications/request", h.HandleRequest)
	r.Get("/api/verifications/list", h.HandleListMine)
	r.Get("/api/verifications/user/{userID}", h.HandleListForUser)
	r.Get("/api/verifications/pending", h.HandleListPending)
	r.Put("/api/verifications/{verificationID}", h.HandleUpdate)
	r.Get("/api/verifications/{verificationID}", h.HandleGet)
}

// RegisterAdmin mounts the operator endpoints. The caller guards r.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/verifiers", h.HandleCreateVerifier)
	r.Post("/admin/verifiers/{verifierID}/deactivate", h.HandleDeactivateVerifier)
	r.Post("/admin/reconcile", h.HandleReconcile)
}

func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateVerificationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	p := requestcontext.Principal(ctx)
	userID := requestcontext.UserID(ctx)
	if req.UserID != "" {
		parsed, err := id.ParseUserID(req.UserID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		userID = parsed
	}

	v, err := h.service.RequestVerification(ctx, p, userID, req.VerificationType, req.Notes)
	if err != nil {
		h.logger.WarnContext(ctx, "verification request failed",
			"request_id", requestID,
			"user_id", userID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromVerification(v))
}

func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.service.ListForUser(ctx, requestcontext.Principal(ctx), requestcontext.UserID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVerifications(list))
}

func (h *Handler) HandleListForUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.service.ListForUser(ctx, requestcontext.Principal(ctx), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVerifications(list))
}

func (h *Handler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.service.ListPending(ctx, requestcontext.Principal(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVerifications(list))
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	vid, err := id.ParseVerificationID(chi.URLParam(r, "verificationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdateVerificationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	v, err := h.service.UpdateStatus(ctx, requestcontext.Principal(ctx), service.UpdateRequest{
		VerificationID: vid,
		Status:         req.Status,
		Notes:          req.Notes,
		TxHash:         req.TransactionHash,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "verification update failed",
			"request_id", requestID,
			"verification_id", vid,
			"status", req.Status,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVerification(v))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vid, err := id.ParseVerificationID(chi.URLParam(r, "verificationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	v, err := h.service.Get(ctx, requestcontext.Principal(ctx), vid)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVerification(v))
}

func (h *Handler) HandleCreateVerifier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateVerifierRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	v, apiKey, err := h.service.CreateVerifier(ctx, req.Name, req.ChainAddress)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromVerifier(v, apiKey))
}

func (h *Handler) HandleDeactivateVerifier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	verifierID, err := id.ParseVerifierID(chi.URLParam(r, "verifierID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	v, err := h.service.SetVerifierActive(ctx, verifierID, false)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "verifier deactivated",
		"request_id", requestcontext.RequestID(ctx),
		"verifier_id", verifierID,
	)
	httputil.WriteJSON(w, http.StatusOK, FromVerifier(v, ""))
}

func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.service.Reconcile(ctx, requestcontext.Now(ctx).Add(-h.claimTTL))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
