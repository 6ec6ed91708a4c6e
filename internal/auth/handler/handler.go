package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	userhandler "idchain/internal/users/handler"
	"idchain/internal/users/models"
	dErrors "idchain/pkg/domain-errors"
	"idchain/pkg/platform/httputil"
	"idchain/pkg/requestcontext"
)

// Service authenticates users by password.
type Service interface {
	Authenticate(ctx context.Context, username, password string) (string, *models.User, error)
}

type Handler struct {
	service  Service
	logger   *slog.Logger
	tokenTTL time.Duration
}

func New(service Service, logger *slog.Logger, tokenTTL time.Duration) *Handler {
	return &Handler{service: service, logger: logger, tokenTTL: tokenTTL}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/api/users/login", h.HandleLogin)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Username = strings.TrimSpace(r.Username)
	if r.Username == "" || r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "username and password are required")
	}
	return nil
}

type TokenResponse struct {
	AccessToken string                    `json:"access_token"`
	TokenType   string                    `json:"token_type"`
	ExpiresIn   int                       `json:"expires_in"`
	User        *userhandler.UserResponse `json:"user"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[LoginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	accessToken, user, err := h.service.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "bearer",
		ExpiresIn:   int(h.tokenTTL.Seconds()),
		User:        userhandler.FromUser(user),
	})
}
