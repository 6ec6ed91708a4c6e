package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"idchain/internal/platform/postgres"
	"idchain/internal/verification/models"
	id "idchain/pkg/domain"
	"idchain/pkg/platform/sentinel"
	txcontext "idchain/pkg/platform/tx"
)

const onePendingConstraint = "verifications_one_pending"

// PostgresVerifications persists verifications in PostgreSQL. Conditional
// updates are single UPDATE ... RETURNING statements.
type PostgresVerifications struct {
	db *sql.DB
}

func NewPostgresVerifications(db *sql.DB) *PostgresVerifications {
	return &PostgresVerifications{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryer(ctx context.Context, db *sql.DB) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return db
}

const verificationColumns = `id, user_id, verifier_id, kind, status, tx_hash, notes, claimed_at, claim_tx_hash, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVerification(row rowScanner) (*models.Verification, error) {
	var (
		v                    models.Verification
		vid, uid, verifierID uuid.UUID
		status               string
		claimedAt            sql.NullTime
	)
	if err := row.Scan(&vid, &uid, &verifierID, &v.Kind, &status, &v.TxHash, &v.Notes,
		&claimedAt, &v.Claim.TxHash, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.ID = id.VerificationID(vid)
	v.UserID = id.UserID(uid)
	v.VerifierID = id.VerifierID(verifierID)
	v.Status = models.Status(status)
	if claimedAt.Valid {
		v.Claim.At = claimedAt.Time
	}
	return &v, nil
}

func (s *PostgresVerifications) CreatePending(ctx context.Context, v *models.Verification) error {
	query := `
		INSERT INTO verifications (id, user_id, verifier_id, kind, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7)
	`
	_, err := queryer(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(v.ID),
		uuid.UUID(v.UserID),
		uuid.UUID(v.VerifierID),
		v.Kind,
		v.Notes,
		v.CreatedAt,
		v.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, onePendingConstraint) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

func (s *PostgresVerifications) FindByID(ctx context.Context, vid id.VerificationID) (*models.Verification, error) {
	query := `SELECT ` + verificationColumns + ` FROM verifications WHERE id = $1`
	v, err := scanVerification(queryer(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(vid)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find verification: %w", err)
	}
	return v, nil
}

func (s *PostgresVerifications) list(ctx context.Context, query string, args ...any) ([]*models.Verification, error) {
	rows, err := queryer(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return out, nil
}

// ListByUser returns the user's requests, newest first.
func (s *PostgresVerifications) ListByUser(ctx context.Context, userID id.UserID) ([]*models.Verification, error) {
	return s.list(ctx, `SELECT `+verificationColumns+` FROM verifications WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		uuid.UUID(userID))
}

// LatestForUser returns the user's most recently created request. Ties on
// created_at resolve to the highest id.
func (s *PostgresVerifications) LatestForUser(ctx context.Context, userID id.UserID) (*models.Verification, error) {
	list, err := s.list(ctx, `SELECT `+verificationColumns+` FROM verifications WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		uuid.UUID(userID))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return list[0], nil
}

// ListPendingByVerifier returns the verifier's queue, oldest first.
func (s *PostgresVerifications) ListPendingByVerifier(ctx context.Context, verifierID id.VerifierID) ([]*models.Verification, error) {
	return s.list(ctx, `SELECT `+verificationColumns+` FROM verifications WHERE verifier_id = $1 AND status = 'pending' ORDER BY created_at`,
		uuid.UUID(verifierID))
}

// ListStaleClaims returns pending records claimed before the cutoff.
func (s *PostgresVerifications) ListStaleClaims(ctx context.Context, before time.Time, limit int) ([]*models.Verification, error) {
	return s.list(ctx, `SELECT `+verificationColumns+` FROM verifications
		WHERE status = 'pending' AND claimed_at IS NOT NULL AND claimed_at < $1
		ORDER BY claimed_at LIMIT $2`, before, limit)
}

// conditional runs a compare-and-set UPDATE ... RETURNING. No row means the
// record is missing or another writer changed it first.
func (s *PostgresVerifications) conditional(ctx context.Context, vid id.VerificationID, query string, args ...any) (*models.Verification, error) {
	v, err := scanVerification(queryer(ctx, s.db).QueryRowContext(ctx, query, args...))
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update verification: %w", err)
	}
	if _, ferr := s.FindByID(ctx, vid); ferr != nil {
		return nil, ferr
	}
	return nil, sentinel.ErrConflict
}

// Claim takes the ledger-write claim on a pending, unclaimed record.
func (s *PostgresVerifications) Claim(ctx context.Context, vid id.VerificationID, now time.Time) (*models.Verification, error) {
	return s.conditional(ctx, vid, `
		UPDATE verifications SET claimed_at = $2, claim_tx_hash = ''
		WHERE id = $1 AND status = 'pending' AND claimed_at IS NULL
		RETURNING `+verificationColumns,
		uuid.UUID(vid), now)
}

func (s *PostgresVerifications) ReleaseClaim(ctx context.Context, vid id.VerificationID) error {
	_, err := s.conditional(ctx, vid, `
		UPDATE verifications SET claimed_at = NULL, claim_tx_hash = ''
		WHERE id = $1 AND status = 'pending' AND claimed_at IS NOT NULL
		RETURNING `+verificationColumns,
		uuid.UUID(vid))
	return err
}

func (s *PostgresVerifications) RecordClaimTx(ctx context.Context, vid id.VerificationID, txHash string) error {
	_, err := s.conditional(ctx, vid, `
		UPDATE verifications SET claim_tx_hash = $2
		WHERE id = $1 AND status = 'pending' AND claimed_at IS NOT NULL
		RETURNING `+verificationColumns,
		uuid.UUID(vid), txHash)
	return err
}

// UpdateUnclaimed moves an unclaimed record from one status to another. A nil
// notes leaves the notes unchanged.
func (s *PostgresVerifications) UpdateUnclaimed(ctx context.Context, vid id.VerificationID, from, to models.Status, notes *string, now time.Time) (*models.Verification, error) {
	return s.conditional(ctx, vid, `
		UPDATE verifications SET status = $3, notes = COALESCE($4, notes), updated_at = $5
		WHERE id = $1 AND status = $2 AND claimed_at IS NULL
		RETURNING `+verificationColumns,
		uuid.UUID(vid), string(from), string(to), nullableNotes(notes), now)
}

// CommitApproval approves a claimed pending record and drops the claim.
func (s *PostgresVerifications) CommitApproval(ctx context.Context, vid id.VerificationID, txHash string, notes *string, now time.Time) (*models.Verification, error) {
	return s.conditional(ctx, vid, `
		UPDATE verifications
		SET status = 'approved', tx_hash = $2, notes = COALESCE($3, notes), updated_at = $4,
			claimed_at = NULL, claim_tx_hash = ''
		WHERE id = $1 AND status = 'pending' AND claimed_at IS NOT NULL
		RETURNING `+verificationColumns,
		uuid.UUID(vid), txHash, nullableNotes(notes), now)
}

func nullableNotes(notes *string) sql.NullString {
	if notes == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *notes, Valid: true}
}
