package ledger

import (
	"context"
	"errors"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"idchain/pkg/platform/address"
)

const (
	methodRegisterIdentity = "registerIdentity"
	methodVerifyIdentity   = "verifyIdentity"

	revertReplayTimeout = 5 * time.Second
)

// RegisterIdentity records the user's identity hash on the ledger, owned by
// chainAddress, and blocks until the transaction is mined. It returns the
// transaction hash.
func (c *Client) RegisterIdentity(ctx context.Context, userID, chainAddress string) (string, error) {
	const op = "register_identity"
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "ledger.RegisterIdentity",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	txHash, err := c.registerIdentity(ctx, op, userID, chainAddress)
	c.finishWrite(ctx, span, op, start, err, "user_id", userID, "chain_address", chainAddress)
	return txHash, err
}

func (c *Client) registerIdentity(ctx context.Context, op, userID, chainAddress string) (string, error) {
	if !address.IsValid(chainAddress) {
		return "", newError(KindInvalidInput, op, errInvalidAddress)
	}
	key, err := contractKey(userID)
	if err != nil {
		return "", err
	}
	owner := common.HexToAddress(chainAddress)
	data, err := c.abi.Pack(methodRegisterIdentity, key, owner)
	if err != nil {
		return "", newError(KindInvalidInput, op, err)
	}
	return c.transact(ctx, op, data, &owner)
}

// VerifyIdentity records a verification of the given kind by verifierAddress
// and blocks until the transaction is mined. The contract creates the
// identity record if it does not exist yet.
func (c *Client) VerifyIdentity(ctx context.Context, userID, verifierAddress, kind string) (string, error) {
	const op = "verify_identity"
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "ledger.VerifyIdentity",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.String("verification_type", kind),
		))
	defer span.End()

	txHash, err := c.verifyIdentity(ctx, op, userID, verifierAddress, kind)
	c.finishWrite(ctx, span, op, start, err, "user_id", userID, "verification_type", kind, "verifier", verifierAddress)
	return txHash, err
}

func (c *Client) verifyIdentity(ctx context.Context, op, userID, verifierAddress, kind string) (string, error) {
	if !address.IsValid(verifierAddress) {
		return "", newError(KindInvalidInput, op, errInvalidAddress)
	}
	if kind == "" {
		return "", newError(KindInvalidInput, op, errEmptyKind)
	}
	key, err := contractKey(userID)
	if err != nil {
		return "", err
	}
	verifier := common.HexToAddress(verifierAddress)
	data, err := c.abi.Pack(methodVerifyIdentity, key, verifier, kind)
	if err != nil {
		return "", newError(KindInvalidInput, op, err)
	}
	return c.transact(ctx, op, data, &verifier)
}

// transact submits data to the contract and waits for its receipt under the
// confirm deadline. fallback is the account used when no admin key is set.
func (c *Client) transact(ctx context.Context, op string, data []byte, fallback *common.Address) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	var (
		hash common.Hash
		from common.Address
		err  error
	)
	switch {
	case c.adminKey != nil:
		from = c.adminAddr
		hash, err = c.sendSigned(ctx, op, data)
	case c.accounts != nil && fallback != nil:
		from = *fallback
		hash, err = c.accounts.SendFromAccount(ctx, from, c.contract, data, c.cfg.GasLimit)
		if err != nil {
			err = classifySend(op, err, "")
		}
	default:
		return "", newError(KindNoSendingAddress, op, errNoSender)
	}
	if err != nil {
		return "", err
	}

	receipt, err := c.waitMined(ctx, op, hash)
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		e := newError(KindReverted, op, errExecutionReverted)
		e.TxHash = hash.Hex()
		e.Reason = c.revertReason(ctx, from, data, receipt.BlockNumber)
		return "", e
	}
	return hash.Hex(), nil
}

// sendSigned allocates the next admin nonce, signs and submits. A failed
// submission forces a resync from the node's pending nonce.
func (c *Client) sendSigned(ctx context.Context, op string, data []byte) (common.Hash, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	if c.signer == nil {
		chainID, err := c.backend.ChainID(ctx)
		if err != nil {
			return common.Hash{}, newError(KindUnreachable, op, err)
		}
		c.signer = types.LatestSignerForChainID(chainID)
	}
	if !c.nonceSynced {
		nonce, err := c.backend.PendingNonceAt(ctx, c.adminAddr)
		if err != nil {
			return common.Hash{}, newError(KindUnreachable, op, err)
		}
		c.nextNonce = nonce
		c.nonceSynced = true
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, newError(KindUnreachable, op, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    c.nextNonce,
		To:       &c.contract,
		Gas:      c.cfg.GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, c.signer, c.adminKey)
	if err != nil {
		return common.Hash{}, newError(KindInvalidInput, op, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		c.nonceSynced = false
		return common.Hash{}, classifySend(op, err, signed.Hash().Hex())
	}
	c.nextNonce++
	return signed.Hash(), nil
}

// classifySend maps a submission error. A node answer means the transaction
// was refused. A failed dial means nothing left the process. Anything else
// leaves the outcome unknown.
func classifySend(op string, err error, txHash string) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return newError(KindRejected, op, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return newError(KindUnreachable, op, err)
	}
	if txHash == "" {
		return newError(KindUnreachable, op, err)
	}
	e := newError(KindUnconfirmed, op, err)
	e.TxHash = txHash
	return e
}

func (c *Client) waitMined(ctx context.Context, op string, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.logger.DebugContext(ctx, "receipt poll failed",
				"op", op,
				"tx_hash", hash.Hex(),
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			c.metrics.IncrementUnconfirmed()
			e := newError(KindUnconfirmed, op, errReceiptDeadline)
			e.TxHash = hash.Hex()
			return nil, e
		case <-ticker.C:
		}
	}
}

// revertReason replays a failed transaction against the parent block state
// and decodes the Error(string) payload, if any.
func (c *Client) revertReason(ctx context.Context, from common.Address, data []byte, block *big.Int) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revertReplayTimeout)
	defer cancel()

	var at *big.Int
	if block != nil && block.Sign() > 0 {
		at = new(big.Int).Sub(block, big.NewInt(1))
	}
	_, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From: from,
		To:   &c.contract,
		Gas:  c.cfg.GasLimit,
		Data: data,
	}, at)
	if err == nil {
		return ""
	}
	return decodeRevert(err)
}

func decodeRevert(err error) string {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return ""
	}
	s, ok := de.ErrorData().(string)
	if !ok {
		return ""
	}
	reason, uerr := abi.UnpackRevert(common.FromHex(s))
	if uerr != nil {
		return ""
	}
	return reason
}

func isRevert(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

func (c *Client) finishWrite(ctx context.Context, span trace.Span, op string, start time.Time, err error, attrs ...any) {
	c.observe(op, start, err)
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, string(KindOf(err)))

	args := append([]any{
		"op", op,
		"error_kind", string(KindOf(err)),
		"tx_hash", TxHashOf(err),
		"error", err,
	}, attrs...)
	c.logger.ErrorContext(ctx, "ledger write failed", args...)
}

// rpcAccountSender sends through eth_sendTransaction on the node.
type rpcAccountSender struct {
	rpc *rpc.Client
}

func (s *rpcAccountSender) SendFromAccount(ctx context.Context, from, to common.Address, data []byte, gas uint64) (common.Hash, error) {
	var hash common.Hash
	args := map[string]any{
		"from": from,
		"to":   to,
		"data": hexutil.Bytes(data),
		"gas":  hexutil.Uint64(gas),
	}
	if err := s.rpc.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}
