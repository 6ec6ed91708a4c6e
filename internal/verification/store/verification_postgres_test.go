package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idchain/internal/verification/models"
	id "idchain/pkg/domain"
	"idchain/pkg/platform/sentinel"
)

var verificationCols = []string{"id", "user_id", "verifier_id", "kind", "status", "tx_hash", "notes", "claimed_at", "claim_tx_hash", "created_at", "updated_at"}

func newVerificationMock(t *testing.T) (*PostgresVerifications, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresVerifications(db), mock
}

func verificationRow(v *models.Verification, claimedAt any) *sqlmock.Rows {
	return sqlmock.NewRows(verificationCols).AddRow(
		v.ID.String(), v.UserID.String(), v.VerifierID.String(), v.Kind, string(v.Status),
		v.TxHash, v.Notes, claimedAt, v.Claim.TxHash, v.CreatedAt, v.UpdatedAt,
	)
}

func sampleVerification() *models.Verification {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return &models.Verification{
		ID:         id.NewVerificationID(),
		UserID:     id.NewUserID(),
		VerifierID: id.NewVerifierID(),
		Kind:       "kyc",
		Status:     models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestPostgresVerifications_CreatePendingDuplicate(t *testing.T) {
	store, mock := newVerificationMock(t)
	v := sampleVerification()

	mock.ExpectExec(`INSERT INTO verifications`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "verifications_one_pending"})

	err := store.CreatePending(context.Background(), v)
	require.ErrorIs(t, err, sentinel.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresVerifications_CreatePendingOtherConstraint(t *testing.T) {
	store, mock := newVerificationMock(t)

	mock.ExpectExec(`INSERT INTO verifications`).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "verifications_user_id_fkey"})

	err := store.CreatePending(context.Background(), sampleVerification())
	require.Error(t, err)
	assert.NotErrorIs(t, err, sentinel.ErrConflict)
}

func TestPostgresVerifications_FindByIDScansClaim(t *testing.T) {
	store, mock := newVerificationMock(t)
	v := sampleVerification()
	v.Claim.TxHash = "0xabc"
	claimedAt := v.CreatedAt.Add(time.Minute)

	mock.ExpectQuery(`SELECT .* FROM verifications WHERE id = \$1`).
		WithArgs(v.ID.String()).
		WillReturnRows(verificationRow(v, claimedAt))

	got, err := store.FindByID(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.True(t, got.Claim.Held())
	assert.Equal(t, "0xabc", got.Claim.TxHash)

	mock.ExpectQuery(`SELECT .* FROM verifications WHERE id = \$1`).
		WillReturnError(sql.ErrNoRows)
	_, err = store.FindByID(context.Background(), id.NewVerificationID())
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresVerifications_ClaimConflict(t *testing.T) {
	store, mock := newVerificationMock(t)
	v := sampleVerification()
	now := v.CreatedAt.Add(time.Minute)

	mock.ExpectQuery(`UPDATE verifications SET claimed_at`).
		WithArgs(v.ID.String(), now).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT .* FROM verifications WHERE id = \$1`).
		WillReturnRows(verificationRow(v, now))

	_, err := store.Claim(context.Background(), v.ID, now)
	require.ErrorIs(t, err, sentinel.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresVerifications_ClaimMissing(t *testing.T) {
	store, mock := newVerificationMock(t)

	mock.ExpectQuery(`UPDATE verifications SET claimed_at`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT .* FROM verifications WHERE id = \$1`).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Claim(context.Background(), id.NewVerificationID(), time.Now())
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresVerifications_CommitApproval(t *testing.T) {
	store, mock := newVerificationMock(t)
	v := sampleVerification()
	now := v.CreatedAt.Add(time.Minute)
	approved := *v
	approved.Status = models.StatusApproved
	approved.TxHash = "0xabc"
	approved.UpdatedAt = now

	mock.ExpectQuery(`UPDATE verifications\s+SET status = 'approved'`).
		WithArgs(v.ID.String(), "0xabc", nil, now).
		WillReturnRows(verificationRow(&approved, nil))

	got, err := store.CommitApproval(context.Background(), v.ID, "0xabc", nil, now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Equal(t, "0xabc", got.TxHash)
	assert.False(t, got.Claim.Held())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresVerifications_UpdateUnclaimedPassesNotes(t *testing.T) {
	store, mock := newVerificationMock(t)
	v := sampleVerification()
	rejected := *v
	rejected.Status = models.StatusRejected
	rejected.Notes = "blurry scan"
	notes := "blurry scan"

	mock.ExpectQuery(`UPDATE verifications SET status = \$3`).
		WithArgs(v.ID.String(), "pending", "rejected", "blurry scan", v.UpdatedAt).
		WillReturnRows(verificationRow(&rejected, nil))

	got, err := store.UpdateUnclaimed(context.Background(), v.ID, models.StatusPending, models.StatusRejected, &notes, v.UpdatedAt)
	require.NoError(t, err)
	assert.Equal(t, "blurry scan", got.Notes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresVerifications_LatestForUserEmpty(t *testing.T) {
	store, mock := newVerificationMock(t)

	mock.ExpectQuery(`SELECT .* FROM verifications WHERE user_id = \$1 ORDER BY created_at DESC, id DESC LIMIT 1`).
		WillReturnRows(sqlmock.NewRows(verificationCols))

	_, err := store.LatestForUser(context.Background(), id.NewUserID())
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresVerifiers_SetActiveUnknown(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := NewPostgresVerifiers(db)

	mock.ExpectExec(`UPDATE verifiers SET active`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.SetActive(context.Background(), id.NewVerifierID(), false)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresVerifiers_CreateConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := NewPostgresVerifiers(db)

	mock.ExpectExec(`INSERT INTO verifiers`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "verifiers_chain_address_key"})

	err = store.Create(context.Background(), &models.Verifier{ID: id.NewVerifierID(), Name: "acme"})
	require.ErrorIs(t, err, sentinel.ErrConflict)
}
