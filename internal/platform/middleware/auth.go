package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	id "idchain/pkg/domain"
	dErrors "idchain/pkg/domain-errors"
	"idchain/pkg/platform/httputil"
	"idchain/pkg/requestcontext"
)

const (
	HeaderAPIKey     = "api-key"
	HeaderAdminToken = "X-Admin-Token"
)

// PrincipalResolver turns presented credentials into principals.
type PrincipalResolver interface {
	PrincipalFromToken(ctx context.Context, token string) (*id.Principal, error)
	VerifierFromAPIKey(ctx context.Context, apiKey string) (*id.Principal, error)
}

// Authenticate attaches the principal named by the request credentials: a
// bearer token for users, an api-key header for verifiers. Presented but
// invalid credentials are rejected with 401. Requests without credentials
// continue anonymously and are refused by the service guards.
func Authenticate(resolver PrincipalResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			var (
				p   *id.Principal
				err error
			)
			switch {
			case r.Header.Get("Authorization") != "":
				token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
				if !ok || strings.TrimSpace(token) == "" {
					err = dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header")
					break
				}
				p, err = resolver.PrincipalFromToken(ctx, strings.TrimSpace(token))
			case r.Header.Get(HeaderAPIKey) != "":
				p, err = resolver.VerifierFromAPIKey(ctx, r.Header.Get(HeaderAPIKey))
			default:
				next.ServeHTTP(w, r)
				return
			}

			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid credentials",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				if dErrors.CodeOf(err) == dErrors.CodeUnauthorized {
					w.Header().Set("WWW-Authenticate", "Bearer")
				}
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithPrincipal(ctx, p)))
		})
	}
}

// RequireAdminToken guards operator routes with a shared token. An empty
// expected token refuses every request.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(HeaderAdminToken)
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
