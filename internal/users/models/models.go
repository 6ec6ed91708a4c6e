package models

import (
	"time"

	id "idchain/pkg/domain"
)

// User is a registered end user. ChainAddress is empty until claimed and
// immutable afterwards.
type User struct {
	ID           id.UserID
	Username     string
	Email        string
	PasswordHash string
	FullName     string
	IDNumber     string
	ChainAddress string
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasChainAddress reports whether the user claimed a ledger address.
func (u *User) HasChainAddress() bool {
	return u.ChainAddress != ""
}

const DocumentStatusPending = "pending"

// Document is metadata about an identity document. Content lives off-service
// and is referenced by its hash.
type Document struct {
	ID           id.DocumentID
	UserID       id.UserID
	Type         string
	DocumentHash string
	IPFSHash     string
	Status       string
	CreatedAt    time.Time
}
