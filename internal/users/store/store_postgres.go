package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"idchain/internal/platform/postgres"
	"idchain/internal/users/models"
	id "idchain/pkg/domain"
	"idchain/pkg/platform/sentinel"
	txcontext "idchain/pkg/platform/tx"
)

// Postgres persists users and documents in PostgreSQL. It joins a
// transaction carried in ctx.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

var uniqueFields = map[string]string{
	"users_username_key":      "username",
	"users_email_key":         "email",
	"users_id_number_key":     "id_number",
	"users_chain_address_key": "chain_address",
}

func conflictFrom(err error) error {
	for constraint, field := range uniqueFields {
		if postgres.IsUniqueViolation(err, constraint) {
			return &ConflictError{Field: field}
		}
	}
	if postgres.IsUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

const userColumns = `id, username, email, password_hash, full_name, id_number, chain_address, verified, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(user.ID),
		user.Username,
		user.Email,
		user.PasswordHash,
		user.FullName,
		nullable(user.IDNumber),
		nullable(user.ChainAddress),
		user.Verified,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if cerr := conflictFrom(err); cerr != nil {
			return cerr
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var (
		u         models.User
		userID    uuid.UUID
		idNumber  sql.NullString
		chainAddr sql.NullString
	)
	if err := row.Scan(&userID, &u.Username, &u.Email, &u.PasswordHash, &u.FullName,
		&idNumber, &chainAddr, &u.Verified, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.ID = id.UserID(userID)
	u.IDNumber = idNumber.String
	u.ChainAddress = chainAddr.String
	return &u, nil
}

func (s *Postgres) findOne(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	u, err := scanUser(s.q(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *Postgres) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	return s.findOne(ctx, `id = $1`, uuid.UUID(userID))
}

func (s *Postgres) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findOne(ctx, `username = $1`, username)
}

// SetChainAddress sets the address of a user that has none yet.
func (s *Postgres) SetChainAddress(ctx context.Context, userID id.UserID, addr string, now time.Time) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE users SET chain_address = $2, updated_at = $3 WHERE id = $1 AND chain_address IS NULL`,
		uuid.UUID(userID), addr, now)
	if err != nil {
		if cerr := conflictFrom(err); cerr != nil {
			return cerr
		}
		return fmt.Errorf("set chain address: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set chain address: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.FindByID(ctx, userID); err != nil {
		return err
	}
	return sentinel.ErrInvalidState
}

// UpdateProfile overwrites the non-empty fields of the user's profile.
func (s *Postgres) UpdateProfile(ctx context.Context, userID id.UserID, fullName, idNumber string, now time.Time) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE users
		SET full_name = COALESCE(NULLIF($2, ''), full_name),
		    id_number = COALESCE(NULLIF($3, ''), id_number),
		    updated_at = $4
		WHERE id = $1
	`, uuid.UUID(userID), fullName, idNumber, now)
	if err != nil {
		if cerr := conflictFrom(err); cerr != nil {
			return cerr
		}
		return fmt.Errorf("update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) MarkVerified(ctx context.Context, userID id.UserID, now time.Time) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE users SET verified = TRUE, updated_at = $2 WHERE id = $1`,
		uuid.UUID(userID), now)
	if err != nil {
		return fmt.Errorf("mark user verified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark user verified: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) AddDocument(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (id, user_id, document_type, document_hash, ipfs_hash, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(doc.ID),
		uuid.UUID(doc.UserID),
		doc.Type,
		doc.DocumentHash,
		doc.IPFSHash,
		doc.Status,
		doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// ListDocuments returns the user's documents, oldest first.
func (s *Postgres) ListDocuments(ctx context.Context, userID id.UserID) ([]*models.Document, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, user_id, document_type, document_hash, ipfs_hash, status, created_at
		FROM documents
		WHERE user_id = $1
		ORDER BY created_at
	`, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var (
			d          models.Document
			docID, uid uuid.UUID
		)
		if err := rows.Scan(&docID, &uid, &d.Type, &d.DocumentHash, &d.IPFSHash, &d.Status, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.ID = id.DocumentID(docID)
		d.UserID = id.UserID(uid)
		docs = append(docs, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}
