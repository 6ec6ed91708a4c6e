package testutil

import (
	"net/http"

	id "idchain/pkg/domain"
	"idchain/pkg/requestcontext"
)

// WithUser attaches a user principal to the request, as the bearer token
// middleware would.
func WithUser(req *http.Request, userID id.UserID) *http.Request {
	return WithPrincipal(req, id.UserPrincipal(userID))
}

// WithVerifier attaches an active verifier principal to the request, as the
// api-key middleware would.
func WithVerifier(req *http.Request, verifierID id.VerifierID, chainAddress string) *http.Request {
	return WithPrincipal(req, id.VerifierPrincipal(verifierID, chainAddress, true))
}

func WithPrincipal(req *http.Request, p *id.Principal) *http.Request {
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), p))
}
