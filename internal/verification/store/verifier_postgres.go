package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"idchain/internal/platform/postgres"
	"idchain/internal/verification/models"
	id "idchain/pkg/domain"
	"idchain/pkg/platform/sentinel"
)

type PostgresVerifiers struct {
	db *sql.DB
}

func NewPostgresVerifiers(db *sql.DB) *PostgresVerifiers {
	return &PostgresVerifiers{db: db}
}

const verifierColumns = `id, name, chain_address, api_key_hash, active, created_at`

func scanVerifier(row rowScanner) (*models.Verifier, error) {
	var (
		v   models.Verifier
		vid uuid.UUID
	)
	if err := row.Scan(&vid, &v.Name, &v.ChainAddress, &v.APIKeyHash, &v.Active, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.ID = id.VerifierID(vid)
	return &v, nil
}

func (s *PostgresVerifiers) Create(ctx context.Context, v *models.Verifier) error {
	_, err := queryer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO verifiers (`+verifierColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.UUID(v.ID), v.Name, v.ChainAddress, v.APIKeyHash, v.Active, v.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert verifier: %w", err)
	}
	return nil
}

func (s *PostgresVerifiers) findOne(ctx context.Context, where string, args ...any) (*models.Verifier, error) {
	v, err := scanVerifier(queryer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+verifierColumns+` FROM verifiers `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find verifier: %w", err)
	}
	return v, nil
}

func (s *PostgresVerifiers) FindByID(ctx context.Context, verifierID id.VerifierID) (*models.Verifier, error) {
	return s.findOne(ctx, `WHERE id = $1`, uuid.UUID(verifierID))
}

func (s *PostgresVerifiers) FindByAPIKeyHash(ctx context.Context, hash string) (*models.Verifier, error) {
	return s.findOne(ctx, `WHERE api_key_hash = $1`, hash)
}

// FirstActive returns the earliest created active verifier.
func (s *PostgresVerifiers) FirstActive(ctx context.Context) (*models.Verifier, error) {
	return s.findOne(ctx, `WHERE active ORDER BY created_at LIMIT 1`)
}

func (s *PostgresVerifiers) SetActive(ctx context.Context, verifierID id.VerifierID, active bool) error {
	res, err := queryer(ctx, s.db).ExecContext(ctx,
		`UPDATE verifiers SET active = $2 WHERE id = $1`, uuid.UUID(verifierID), active)
	if err != nil {
		return fmt.Errorf("update verifier: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update verifier: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
