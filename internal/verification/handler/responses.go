package handler

import (
	"time"

	"idchain/internal/verification/models"
)

type VerificationResponse struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	VerifierID       string    `json:"verifier_id"`
	VerificationType string    `json:"verification_type"`
	Status           string    `json:"status"`
	TransactionHash  string    `json:"transaction_hash,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"verification_date"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func FromVerification(v *models.Verification) *VerificationResponse {
	return &VerificationResponse{
		ID:               v.ID.String(),
		UserID:           v.UserID.String(),
		VerifierID:       v.VerifierID.String(),
		VerificationType: v.Kind,
		Status:           string(v.Status),
		TransactionHash:  v.TxHash,
		Notes:            v.Notes,
		CreatedAt:        v.CreatedAt,
		UpdatedAt:        v.UpdatedAt,
	}
}

func FromVerifications(list []*models.Verification) []*VerificationResponse {
	out := make([]*VerificationResponse, 0, len(list))
	for _, v := range list {
		out = append(out, FromVerification(v))
	}
	return out
}

// VerifierResponse carries the API key only when the verifier is created.
type VerifierResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ChainAddress string    `json:"chain_address"`
	APIKey       string    `json:"api_key,omitempty"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

func FromVerifier(v *models.Verifier, apiKey string) *VerifierResponse {
	return &VerifierResponse{
		ID:           v.ID.String(),
		Name:         v.Name,
		ChainAddress: v.ChainAddress,
		APIKey:       apiKey,
		Active:       v.Active,
		CreatedAt:    v.CreatedAt,
	}
}
