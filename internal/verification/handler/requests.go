package handler

import (
	"strings"

	dErrors "idchain/pkg/domain-errors"
)

// CreateVerificationRequest is the body of POST /api/verifications/request.
// UserID defaults to the caller.
type CreateVerificationRequest struct {
	UserID           string `json:"user_id"`
	VerificationType string `json:"verification_type"`
	Notes            string `json:"notes"`
}

func (r *CreateVerificationRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.UserID = strings.TrimSpace(r.UserID)
	r.VerificationType = strings.TrimSpace(r.VerificationType)
	if r.VerificationType == "" {
		return dErrors.New(dErrors.CodeValidation, "verification_type is required")
	}
	return nil
}

// UpdateVerificationRequest is the body of PUT /api/verifications/{verificationID}.
type UpdateVerificationRequest struct {
	Status          string  `json:"status"`
	TransactionHash string  `json:"transaction_hash"`
	Notes           *string `json:"notes"`
}

func (r *UpdateVerificationRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Status = strings.TrimSpace(r.Status)
	if r.Status == "" {
		return dErrors.New(dErrors.CodeValidation, "status is required")
	}
	return nil
}

// CreateVerifierRequest is the body of POST /admin/verifiers.
type CreateVerifierRequest struct {
	Name         string `json:"name"`
	ChainAddress string `json:"chain_address"`
}

func (r *CreateVerifierRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Name = strings.TrimSpace(r.Name)
	r.ChainAddress = strings.TrimSpace(r.ChainAddress)
	if r.Name == "" || r.ChainAddress == "" {
		return dErrors.New(dErrors.CodeValidation, "name and chain_address are required")
	}
	return nil
}
