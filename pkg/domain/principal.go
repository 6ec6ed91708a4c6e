package domain

// PrincipalKind distinguishes the two authenticated actor types.
type PrincipalKind string

const (
	PrincipalUser     PrincipalKind = "user"
	PrincipalVerifier PrincipalKind = "verifier"
)

// Principal is the authenticated actor of a request. Exactly one of UserID or
// VerifierID is set, according to Kind.
type Principal struct {
	Kind         PrincipalKind
	UserID       UserID
	VerifierID   VerifierID
	ChainAddress string
	Active       bool
}

// UserPrincipal builds the principal of an authenticated end user.
func UserPrincipal(userID UserID) *Principal {
	return &Principal{Kind: PrincipalUser, UserID: userID, Active: true}
}

// VerifierPrincipal builds the principal of an authenticated verifier.
func VerifierPrincipal(verifierID VerifierID, chainAddress string, active bool) *Principal {
	return &Principal{
		Kind:         PrincipalVerifier,
		VerifierID:   verifierID,
		ChainAddress: chainAddress,
		Active:       active,
	}
}
