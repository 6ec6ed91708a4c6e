package models

import (
	"time"

	vmodels "idchain/internal/verification/models"
	id "idchain/pkg/domain"
)

// Status is the externally reported identity status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// ZeroAddress is reported for users without a valid chain address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// StatusFrom maps the latest verification status to the reported status.
func StatusFrom(s vmodels.Status) Status {
	switch s {
	case vmodels.StatusApproved:
		return StatusVerified
	case vmodels.StatusRejected:
		return StatusRejected
	default:
		return StatusPending
	}
}

// StatusView is the identity status of one user. Local records decide Status;
// the ledger fields are enrichment and may be empty.
type StatusView struct {
	UserID       id.UserID
	Status       Status
	ChainAddress string
	// IdentityHash is empty when it could not be derived.
	IdentityHash string
	// VerifiedOnChain is nil when the ledger was not asked or did not answer.
	VerifiedOnChain *bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Ledger          LedgerInfo
}

// LedgerInfo describes where the latest verification lives on chain.
type LedgerInfo struct {
	ContractAddress string
	TxHash          string
	// RecordedAt is the creation time of the latest verification, zero when
	// there is none.
	RecordedAt time.Time
}
