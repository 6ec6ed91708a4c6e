package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	methodCheckVerificationStatus = "checkVerificationStatus"
	methodGetIdentityDetails      = "getIdentityDetails"
	methodGetVerificationCount    = "getVerificationCount"
	methodGetVerification         = "getVerification"

	eventIdentityVerified = "IdentityVerified"
)

// IdentityDetails is the on-chain view of one identity.
type IdentityDetails struct {
	IdentityHash  string
	Owner         string
	Exists        bool
	Verifications []OnChainVerification
}

// OnChainVerification is one verification entry stored by the contract.
type OnChainVerification struct {
	Kind      string
	Verifier  string
	Timestamp time.Time
}

// TxStatus is the mined state of a transaction.
type TxStatus string

const (
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
	TxUnknown   TxStatus = "unknown"
)

// CheckVerificationStatus reports whether the ledger holds a verification of
// kind for the user. A missing identity or entry is false, not an error.
func (c *Client) CheckVerificationStatus(ctx context.Context, userID, kind string) (bool, error) {
	const op = "check_verification_status"
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "ledger.CheckVerificationStatus",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.String("verification_type", kind),
		))
	defer span.End()

	verified, err := c.checkVerificationStatus(ctx, op, userID, kind)
	c.finishRead(span, op, start, err)
	return verified, err
}

func (c *Client) checkVerificationStatus(ctx context.Context, op, userID, kind string) (bool, error) {
	key, err := contractKey(userID)
	if err != nil {
		return false, err
	}
	out, err := c.call(ctx, op, methodCheckVerificationStatus, key, kind)
	if err != nil {
		if KindOf(err) == KindReverted {
			return false, nil
		}
		return false, err
	}
	verified, ok := out[0].(bool)
	if !ok {
		return false, badResponse(op, methodCheckVerificationStatus)
	}
	return verified, nil
}

// GetIdentityDetails reads the identity owner and enumerates every one of its
// verification entries. The read is linear in the number of entries and is
// bounded only by ctx.
func (c *Client) GetIdentityDetails(ctx context.Context, userID string) (*IdentityDetails, error) {
	const op = "get_identity_details"
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "ledger.GetIdentityDetails",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	details, err := c.getIdentityDetails(ctx, op, userID)
	c.finishRead(span, op, start, err)
	return details, err
}

func (c *Client) getIdentityDetails(ctx context.Context, op, userID string) (*IdentityDetails, error) {
	hash, err := IdentityHash(userID)
	if err != nil {
		return nil, err
	}
	key, _ := contractKey(userID)
	details := &IdentityDetails{IdentityHash: hash}

	out, err := c.call(ctx, op, methodGetIdentityDetails, key)
	if err != nil {
		if KindOf(err) == KindReverted {
			return details, nil
		}
		return nil, err
	}
	owner, ok1 := out[0].(common.Address)
	exists, ok2 := out[1].(bool)
	if !ok1 || !ok2 {
		return nil, badResponse(op, methodGetIdentityDetails)
	}
	if !exists {
		return details, nil
	}
	details.Owner = owner.Hex()
	details.Exists = true

	out, err = c.call(ctx, op, methodGetVerificationCount, key)
	if err != nil {
		return nil, err
	}
	count, ok := out[0].(*big.Int)
	if !ok {
		return nil, badResponse(op, methodGetVerificationCount)
	}
	if !count.IsInt64() || count.Sign() < 0 {
		return nil, badResponse(op, methodGetVerificationCount)
	}
	n := count.Int64()

	details.Verifications = make([]OnChainVerification, 0, min(n, 1024))
	for i := int64(0); i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, newError(KindUnreachable, op, err)
		}
		out, err := c.call(ctx, op, methodGetVerification, key, big.NewInt(i))
		if err != nil {
			return nil, err
		}
		kind, ok1 := out[0].(string)
		verifier, ok2 := out[1].(common.Address)
		ts, ok3 := out[2].(*big.Int)
		if !ok1 || !ok2 || !ok3 {
			return nil, badResponse(op, methodGetVerification)
		}
		details.Verifications = append(details.Verifications, OnChainVerification{
			Kind:      kind,
			Verifier:  verifier.Hex(),
			Timestamp: time.Unix(ts.Int64(), 0).UTC(),
		})
	}
	return details, nil
}

// FindVerificationTx returns the hash of the latest transaction that logged a
// verification of kind for the user, or "" when the node holds no such log.
func (c *Client) FindVerificationTx(ctx context.Context, userID, kind string) (string, error) {
	const op = "find_verification_tx"
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "ledger.FindVerificationTx",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.String("verification_type", kind),
		))
	defer span.End()

	txHash, err := c.findVerificationTx(ctx, op, userID, kind)
	c.finishRead(span, op, start, err)
	return txHash, err
}

func (c *Client) findVerificationTx(ctx context.Context, op, userID, kind string) (string, error) {
	key, err := contractKey(userID)
	if err != nil {
		return "", err
	}
	if kind == "" {
		return "", newError(KindInvalidInput, op, errEmptyKind)
	}
	event, ok := c.abi.Events[eventIdentityVerified]
	if !ok {
		return "", newError(KindBadResponse, op, fmt.Errorf("contract abi has no %s event", eventIdentityVerified))
	}

	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{event.ID}},
	})
	if err != nil {
		return "", newError(KindUnreachable, op, err)
	}

	var found string
	for _, l := range logs {
		if l.Removed {
			continue
		}
		fields, err := event.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil {
			return "", newError(KindBadResponse, op, err)
		}
		if len(fields) != 2 {
			return "", badResponse(op, eventIdentityVerified)
		}
		identityHash, ok1 := fields[0].(string)
		verificationType, ok2 := fields[1].(string)
		if !ok1 || !ok2 {
			return "", badResponse(op, eventIdentityVerified)
		}
		if identityHash == key && verificationType == kind {
			found = l.TxHash.Hex()
		}
	}
	return found, nil
}

// TransactionStatus reports whether a transaction was mined successfully,
// mined and failed, or is not known to the node.
func (c *Client) TransactionStatus(ctx context.Context, txHash string) (TxStatus, error) {
	const op = "transaction_status"
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "ledger.TransactionStatus",
		trace.WithAttributes(attribute.String("tx_hash", txHash)))
	defer span.End()

	status, err := c.transactionStatus(ctx, op, txHash)
	c.finishRead(span, op, start, err)
	return status, err
}

func (c *Client) transactionStatus(ctx context.Context, op, txHash string) (TxStatus, error) {
	if len(common.FromHex(txHash)) != common.HashLength {
		return TxUnknown, newError(KindInvalidInput, op, fmt.Errorf("invalid transaction hash %q", txHash))
	}
	receipt, err := c.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return TxUnknown, nil
		}
		return TxUnknown, newError(KindUnreachable, op, err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return TxConfirmed, nil
	}
	return TxFailed, nil
}

// call executes a read-only contract method and decodes its outputs.
func (c *Client) call(ctx context.Context, op, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, newError(KindInvalidInput, op, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		if isRevert(err) {
			e := newError(KindReverted, op, err)
			e.Reason = decodeRevert(err)
			return nil, e
		}
		return nil, newError(KindUnreachable, op, err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, newError(KindBadResponse, op, err)
	}
	if len(out) != len(c.abi.Methods[method].Outputs) {
		return nil, badResponse(op, method)
	}
	return out, nil
}

func badResponse(op, method string) error {
	return newError(KindBadResponse, op, fmt.Errorf("unexpected output shape for %s", method))
}

func (c *Client) finishRead(span trace.Span, op string, start time.Time, err error) {
	c.observe(op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
}
