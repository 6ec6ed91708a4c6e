package handler

import (
	"time"

	"idchain/internal/identity/models"
	"idchain/internal/ledger"
)

// StatusResponse is the identity status. Ledger-derived fields are null when
// the ledger could not supply them.
type StatusResponse struct {
	UserID          string         `json:"user_id"`
	Status          string         `json:"status"`
	ChainAddress    string         `json:"blockchain_address"`
	IdentityHash    *string        `json:"identity_hash"`
	VerifiedOnChain *bool          `json:"verified_on_chain,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Ledger          LedgerResponse `json:"blockchain_info"`
}

type LedgerResponse struct {
	ContractAddress string     `json:"contract_address"`
	TxHash          *string    `json:"transaction_hash"`
	Timestamp       *time.Time `json:"timestamp"`
}

func FromStatusView(v *models.StatusView) *StatusResponse {
	resp := &StatusResponse{
		UserID:          v.UserID.String(),
		Status:          string(v.Status),
		ChainAddress:    v.ChainAddress,
		IdentityHash:    optional(v.IdentityHash),
		VerifiedOnChain: v.VerifiedOnChain,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
		Ledger: LedgerResponse{
			ContractAddress: v.Ledger.ContractAddress,
			TxHash:          optional(v.Ledger.TxHash),
		},
	}
	if !v.Ledger.RecordedAt.IsZero() {
		at := v.Ledger.RecordedAt
		resp.Ledger.Timestamp = &at
	}
	return resp
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type ChainStatusResponse struct {
	UserID           string `json:"user_id"`
	VerificationType string `json:"verification_type"`
	Verified         bool   `json:"is_verified"`
}

type IdentityDetailsResponse struct {
	IdentityHash  string                 `json:"identity_hash"`
	Owner         string                 `json:"owner"`
	Exists        bool                   `json:"exists"`
	Verifications []VerificationResponse `json:"verifications"`
}

type VerificationResponse struct {
	VerificationType string    `json:"verification_type"`
	Verifier         string    `json:"verifier"`
	Timestamp        time.Time `json:"timestamp"`
}

func FromIdentityDetails(d *ledger.IdentityDetails) *IdentityDetailsResponse {
	resp := &IdentityDetailsResponse{
		IdentityHash:  d.IdentityHash,
		Owner:         d.Owner,
		Exists:        d.Exists,
		Verifications: make([]VerificationResponse, 0, len(d.Verifications)),
	}
	for _, v := range d.Verifications {
		resp.Verifications = append(resp.Verifications, VerificationResponse{
			VerificationType: v.Kind,
			Verifier:         v.Verifier,
			Timestamp:        v.Timestamp,
		})
	}
	return resp
}
