package domain

import (
	"github.com/google/uuid"

	dErrors "idchain/pkg/domain-errors"
)

// Typed identifiers. Each is a distinct named type so a VerificationID can never
// be passed where a UserID is expected.
type (
	UserID         uuid.UUID
	VerifierID     uuid.UUID
	VerificationID uuid.UUID
	DocumentID     uuid.UUID
)

func (u UserID) String() string         { return uuid.UUID(u).String() }
func (v VerifierID) String() string     { return uuid.UUID(v).String() }
func (v VerificationID) String() string { return uuid.UUID(v).String() }
func (d DocumentID) String() string     { return uuid.UUID(d).String() }

func (u UserID) IsNil() bool         { return uuid.UUID(u) == uuid.Nil }
func (v VerifierID) IsNil() bool     { return uuid.UUID(v) == uuid.Nil }
func (v VerificationID) IsNil() bool { return uuid.UUID(v) == uuid.Nil }
func (d DocumentID) IsNil() bool     { return uuid.UUID(d) == uuid.Nil }

// maxIDLength bounds input before it reaches the UUID parser. The longest
// accepted form is the urn:uuid: prefixed one.
const maxIDLength = 45

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return parsed, nil
}

// ParseUserID parses a user identifier at a trust boundary.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user ID")
	return UserID(u), err
}

func ParseVerifierID(s string) (VerifierID, error) {
	u, err := parseUUID(s, "verifier ID")
	return VerifierID(u), err
}

func ParseVerificationID(s string) (VerificationID, error) {
	u, err := parseUUID(s, "verification ID")
	return VerificationID(u), err
}

func ParseDocumentID(s string) (DocumentID, error) {
	u, err := parseUUID(s, "document ID")
	return DocumentID(u), err
}

func NewUserID() UserID                 { return UserID(uuid.New()) }
func NewVerifierID() VerifierID         { return VerifierID(uuid.New()) }
func NewVerificationID() VerificationID { return VerificationID(uuid.New()) }
func NewDocumentID() DocumentID         { return DocumentID(uuid.New()) }
