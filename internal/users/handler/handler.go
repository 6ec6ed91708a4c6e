package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"idchain/internal/users/models"
	"idchain/internal/users/service"
	id "idchain/pkg/domain"
	"idchain/pkg/platform/httputil"
	"idchain/pkg/requestcontext"
)

// Service defines the user operations exposed over HTTP.
type Service interface {
	Register(ctx context.Context, req service.RegisterRequest) (*models.User, error)
	Get(ctx context.Context, p *id.Principal, userID id.UserID) (*models.User, error)
	Me(ctx context.Context, p *id.Principal) (*models.User, error)
	ClaimAddress(ctx context.Context, p *id.Principal, chainAddress string) (*models.User, error)
	UpdateProfile(ctx context.Context, p *id.Principal, req service.ProfileUpdate) (*models.User, error)
	UploadDocument(ctx context.Context, p *id.Principal, req service.DocumentRequest) (*models.Document, error)
	ListDocuments(ctx context.Context, p *id.Principal, userID id.UserID) ([]*models.Document, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the user endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/users/register", h.HandleRegister)
	r.Get("/api/users/me", h.HandleMe)
	r.Put("/api/users/me/address", h.HandleClaimAddress)
	r.Put("/api/users/update", h.HandleUpdateProfile)
	r.Post("/api/users/documents", h.HandleUploadDocument)
	r.Get("/api/users/documents/{userID}", h.HandleListDocuments)
	r.Get("/api/users/{userID}", h.HandleGet)
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RegisterRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	user, err := h.service.Register(ctx, service.RegisterRequest{
		Username:     req.Username,
		Email:        req.Email,
		Password:     req.Password,
		FullName:     req.FullName,
		ChainAddress: req.ChainAddress,
		IDNumber:     req.IDNumber,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "user registration failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromUser(user))
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.service.Me(ctx, requestcontext.Principal(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromUser(user))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	user, err := h.service.Get(ctx, requestcontext.Principal(ctx), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromUser(user))
}

func (h *Handler) HandleClaimAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ClaimAddressRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	user, err := h.service.ClaimAddress(ctx, requestcontext.Principal(ctx), req.ChainAddress)
	if err != nil {
		h.logger.WarnContext(ctx, "chain address claim failed",
			"request_id", requestID,
			"user_id", requestcontext.UserID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromUser(user))
}

func (h *Handler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[UpdateProfileRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	user, err := h.service.UpdateProfile(ctx, requestcontext.Principal(ctx), service.ProfileUpdate{
		FullName: req.FullName,
		IDNumber: req.IDNumber,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "profile update failed",
			"request_id", requestID,
			"user_id", requestcontext.UserID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromUser(user))
}

func (h *Handler) HandleUploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[DocumentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	doc, err := h.service.UploadDocument(ctx, requestcontext.Principal(ctx), service.DocumentRequest{
		Type:         req.DocumentType,
		DocumentHash: req.DocumentHash,
		IPFSHash:     req.IPFSHash,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromDocument(doc))
}

func (h *Handler) HandleListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	docs, err := h.service.ListDocuments(ctx, requestcontext.Principal(ctx), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDocuments(docs))
}
