package models

import (
	"strings"
	"time"

	id "idchain/pkg/domain"
	dErrors "idchain/pkg/domain-errors"
)

// Status is the lifecycle state of a verification request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus parses a client-supplied status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	default:
		return "", dErrors.New(dErrors.CodeBadRequest, "status must be one of pending, approved, rejected")
	}
}

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Claim marks a pending record whose approval is being written to the
// ledger. While held, no other writer may change the record; a stale claim
// is resolved by reconciliation only.
type Claim struct {
	At time.Time
	// TxHash is set when the ledger write was submitted but not confirmed.
	TxHash string
}

func (c Claim) Held() bool { return !c.At.IsZero() }

// Verification is one request for a verifier to attest a kind of identity
// check for a user.
type Verification struct {
	ID         id.VerificationID
	UserID     id.UserID
	VerifierID id.VerifierID
	Kind       string
	Status     Status
	TxHash     string
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Claim      Claim
}

// Transition classifies a requested status change.
type Transition int

const (
	// TransitionApprove is pending to approved; it writes to the ledger.
	TransitionApprove Transition = iota
	// TransitionLocal is pending to pending or rejected.
	TransitionLocal
	// TransitionNoop keeps a terminal status, only notes change.
	TransitionNoop
)

// CheckTransition reports how a change to status `to` is applied. Leaving a
// terminal status is an invalid state error.
func (v *Verification) CheckTransition(to Status) (Transition, error) {
	switch {
	case v.Status == StatusPending && to == StatusApproved:
		return TransitionApprove, nil
	case v.Status == StatusPending:
		return TransitionLocal, nil
	case v.Status == to:
		return TransitionNoop, nil
	default:
		return 0, dErrors.New(dErrors.CodeInvalidState,
			"verification is already "+string(v.Status)+" and cannot become "+string(to))
	}
}

// Verifier is an authority allowed to approve or reject requests.
type Verifier struct {
	ID           id.VerifierID
	Name         string
	ChainAddress string
	APIKeyHash   string
	Active       bool
	CreatedAt    time.Time
}
