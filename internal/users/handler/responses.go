package handler

import (
	"time"

	"idchain/internal/users/models"
)

type UserResponse struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	ChainAddress string    `json:"chain_address,omitempty"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
}

func FromUser(u *models.User) *UserResponse {
	return &UserResponse{
		ID:           u.ID.String(),
		Username:     u.Username,
		Email:        u.Email,
		FullName:     u.FullName,
		ChainAddress: u.ChainAddress,
		Verified:     u.Verified,
		CreatedAt:    u.CreatedAt,
	}
}

type DocumentResponse struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	DocumentType string    `json:"document_type"`
	DocumentHash string    `json:"document_hash"`
	IPFSHash     string    `json:"ipfs_hash,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

func FromDocument(d *models.Document) *DocumentResponse {
	return &DocumentResponse{
		ID:           d.ID.String(),
		UserID:       d.UserID.String(),
		DocumentType: d.Type,
		DocumentHash: d.DocumentHash,
		IPFSHash:     d.IPFSHash,
		Status:       d.Status,
		CreatedAt:    d.CreatedAt,
	}
}

func FromDocuments(docs []*models.Document) []*DocumentResponse {
	out := make([]*DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, FromDocument(d))
	}
	return out
}
