package service

import (
	"context"
	"time"

	"idchain/internal/ledger"
	"idchain/internal/verification/models"
	dErrors "idchain/pkg/domain-errors"
)

const reconcileBatch = 100

// ReconcileResult counts what a reconciliation pass did with stale claims.
type ReconcileResult struct {
	Examined int `json:"examined"`
	Approved int `json:"approved"`
	Released int `json:"released"`
	Pending  int `json:"pending"`
}

// Reconcile resolves claims older than staleBefore against the ledger. It
// never resubmits a write: a claim with a recorded transaction follows that
// transaction's fate, a claim without one follows the ledger's verification
// status for the record's kind and takes its transaction hash from the
// contract's event log. Records whose outcome is still unknown stay claimed
// for the next pass.
func (s *Service) Reconcile(ctx context.Context, staleBefore time.Time) (ReconcileResult, error) {
	var result ReconcileResult
	stale, err := s.verifications.ListStaleClaims(ctx, staleBefore, reconcileBatch)
	if err != nil {
		return result, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list stale claims")
	}

	for _, rec := range stale {
		if err := ctx.Err(); err != nil {
			break
		}
		result.Examined++
		switch s.reconcileOne(ctx, rec) {
		case reconcileApproved:
			result.Approved++
		case reconcileReleased:
			result.Released++
		default:
			result.Pending++
		}
	}

	s.metrics.AddReconciled("approved", result.Approved)
	s.metrics.AddReconciled("released", result.Released)
	s.metrics.AddReconciled("pending", result.Pending)
	if result.Examined > 0 {
		s.logger.InfoContext(ctx, "reconciled stale verification claims",
			"examined", result.Examined,
			"approved", result.Approved,
			"released", result.Released,
			"pending", result.Pending,
		)
	}
	return result, nil
}

type reconcileOutcome int

const (
	reconcilePending reconcileOutcome = iota
	reconcileApproved
	reconcileReleased
)

func (s *Service) reconcileOne(ctx context.Context, rec *models.Verification) reconcileOutcome {
	landed, known, txHash := s.ledgerOutcome(ctx, rec)
	if !known {
		return reconcilePending
	}

	if landed {
		if _, err := s.commitApproval(ctx, rec, txHash, nil, "reconciler"); err != nil {
			s.logger.ErrorContext(ctx, "reconcile approval commit failed",
				"verification_id", rec.ID,
				"tx_hash", txHash,
				"error", err,
			)
			return reconcilePending
		}
		s.logger.InfoContext(ctx, "verification approved by reconciliation",
			"verification_id", rec.ID,
			"user_id", rec.UserID,
			"tx_hash", txHash,
		)
		return reconcileApproved
	}

	if err := s.verifications.ReleaseClaim(ctx, rec.ID); err != nil {
		s.logger.ErrorContext(ctx, "reconcile release failed", "verification_id", rec.ID, "error", err)
		return reconcilePending
	}
	s.logger.WarnContext(ctx, "stale verification claim released",
		"verification_id", rec.ID,
		"user_id", rec.UserID,
		"tx_hash", rec.Claim.TxHash,
	)
	return reconcileReleased
}

// ledgerOutcome reports whether the claimed write landed on the ledger,
// whether that is known yet and, when it landed, the transaction that carried
// it. A landed write is only known once its transaction hash is.
func (s *Service) ledgerOutcome(ctx context.Context, rec *models.Verification) (landed, known bool, txHash string) {
	if rec.Claim.TxHash != "" {
		status, err := s.ledger.TransactionStatus(ctx, rec.Claim.TxHash)
		if err != nil {
			s.logger.WarnContext(ctx, "reconcile transaction lookup failed",
				"verification_id", rec.ID,
				"tx_hash", rec.Claim.TxHash,
				"error_kind", ledger.KindOf(err),
				"error", err,
			)
			return false, false, ""
		}
		switch status {
		case ledger.TxConfirmed:
			return true, true, rec.Claim.TxHash
		case ledger.TxFailed:
			return false, true, ""
		default:
			return false, false, ""
		}
	}

	verified, err := s.ledger.CheckVerificationStatus(ctx, rec.UserID.String(), rec.Kind)
	if err != nil {
		s.logger.WarnContext(ctx, "reconcile status lookup failed",
			"verification_id", rec.ID,
			"error_kind", ledger.KindOf(err),
			"error", err,
		)
		return false, false, ""
	}
	if !verified {
		return false, true, ""
	}

	txHash, err = s.ledger.FindVerificationTx(ctx, rec.UserID.String(), rec.Kind)
	if err != nil {
		s.logger.WarnContext(ctx, "reconcile event lookup failed",
			"verification_id", rec.ID,
			"error_kind", ledger.KindOf(err),
			"error", err,
		)
		return false, false, ""
	}
	if txHash == "" {
		s.logger.ErrorContext(ctx, "verified on ledger but no matching event log",
			"verification_id", rec.ID,
			"user_id", rec.UserID,
			"verification_type", rec.Kind,
		)
		return false, false, ""
	}
	return true, true, txHash
}
