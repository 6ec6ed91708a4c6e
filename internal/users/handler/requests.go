package handler

import (
	"strings"

	dErrors "idchain/pkg/domain-errors"
)

// RegisterRequest is the body of POST /api/users/register.
type RegisterRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	FullName     string `json:"full_name"`
	ChainAddress string `json:"chain_address"`
	IDNumber     string `json:"id_number"`
}

func (r *RegisterRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Password) > 72 {
		return dErrors.New(dErrors.CodeValidation, "password must be at most 72 bytes")
	}
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	if r.Username == "" || r.Email == "" || r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "username, email and password are required")
	}
	return nil
}

// ClaimAddressRequest is the body of PUT /api/users/me/address.
type ClaimAddressRequest struct {
	ChainAddress string `json:"chain_address"`
}

func (r *ClaimAddressRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.ChainAddress = strings.TrimSpace(r.ChainAddress)
	if r.ChainAddress == "" {
		return dErrors.New(dErrors.CodeValidation, "chain_address is required")
	}
	return nil
}

// UpdateProfileRequest is the body of PUT /api/users/update. Omitted or
// blank fields are left unchanged.
type UpdateProfileRequest struct {
	FullName string `json:"full_name"`
	IDNumber string `json:"id_number"`
}

func (r *UpdateProfileRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.FullName = strings.TrimSpace(r.FullName)
	r.IDNumber = strings.TrimSpace(r.IDNumber)
	return nil
}

// DocumentRequest is the body of POST /api/users/documents.
type DocumentRequest struct {
	DocumentType string `json:"document_type"`
	DocumentHash string `json:"document_hash"`
	IPFSHash     string `json:"ipfs_hash"`
}

func (r *DocumentRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.DocumentType = strings.TrimSpace(r.DocumentType)
	r.DocumentHash = strings.TrimSpace(r.DocumentHash)
	if r.DocumentType == "" || r.DocumentHash == "" {
		return dErrors.New(dErrors.CodeValidation, "document_type and document_hash are required")
	}
	return nil
}
