// Package guard holds the authorization checks shared by every service.
// Checks fail closed: a missing principal is unauthorized, anything that is
// not positively allowed is forbidden.
package guard

import (
	id "idchain/pkg/domain"
	dErrors "idchain/pkg/domain-errors"
)

// RequireSelf allows a user principal to act on its own records only.
func RequireSelf(p *id.Principal, target id.UserID) error {
	if p == nil {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if p.Kind != id.PrincipalUser || p.UserID.IsNil() {
		return dErrors.New(dErrors.CodeForbidden, "user access required")
	}
	if p.UserID != target {
		return dErrors.New(dErrors.CodeForbidden, "access to another user's records is not allowed")
	}
	return nil
}

// RequireActiveVerifier returns p when it is an active verifier.
func RequireActiveVerifier(p *id.Principal) (*id.Principal, error) {
	if p == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if p.Kind != id.PrincipalVerifier || p.VerifierID.IsNil() {
		return nil, dErrors.New(dErrors.CodeForbidden, "verifier access required")
	}
	if !p.Active {
		return nil, dErrors.New(dErrors.CodeForbidden, "verifier is not active")
	}
	return p, nil
}
