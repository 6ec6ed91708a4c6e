// Package ledger talks to the DigitalIdentity contract: it derives identity
// hashes, submits registration and verification transactions, and reads
// verification state back.
//
// The client holds no retry logic. Writes block until a receipt is seen or
// the confirm deadline passes; in the latter case the error carries the
// transaction hash so callers can reconcile instead of resubmitting.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"idchain/internal/ledger/metrics"
	"idchain/pkg/platform/address"
)

//go:embed abi/DigitalIdentity.json
var contractABIJSON string

const (
	defaultGasLimit       = 2_000_000
	defaultConfirmTimeout = 120 * time.Second
	defaultPollInterval   = time.Second
)

// Backend is the subset of node RPC the client uses. *ethclient.Client
// satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// AccountSender submits a transaction from an account the node manages
// (eth_sendTransaction). Used only when no admin key is configured.
type AccountSender interface {
	SendFromAccount(ctx context.Context, from, to common.Address, data []byte, gas uint64) (common.Hash, error)
}

// Config holds the ledger client settings.
type Config struct {
	ContractAddress string
	// AdminKey is the hex-encoded secp256k1 key that signs writes. Optional.
	AdminKey       string
	GasLimit       uint64
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Client is the ledger client. It is safe for concurrent use.
type Client struct {
	backend  Backend
	accounts AccountSender
	closer   func()
	abi      abi.ABI
	contract common.Address
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	adminKey  *ecdsa.PrivateKey
	adminAddr common.Address

	// nonceMu serializes nonce allocation and submission for the admin
	// account. It is never held across a receipt wait.
	nonceMu     sync.Mutex
	nonceSynced bool
	nextNonce   uint64
	signer      types.Signer
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithAccountSender enables sending from node-managed accounts when no admin
// key is configured.
func WithAccountSender(s AccountSender) Option {
	return func(c *Client) { c.accounts = s }
}

// ContractABI parses the embedded DigitalIdentity ABI.
func ContractABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(contractABIJSON))
}

// New builds a client over an existing backend.
func New(backend Backend, cfg Config, opts ...Option) (*Client, error) {
	if !address.IsValid(cfg.ContractAddress) {
		return nil, newError(KindInvalidInput, "new", errInvalidContractAddress)
	}
	parsed, err := ContractABI()
	if err != nil {
		return nil, err
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = defaultGasLimit
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	c := &Client{
		backend:  backend,
		abi:      parsed,
		contract: common.HexToAddress(cfg.ContractAddress),
		cfg:      cfg,
		logger:   slog.Default(),
		tracer:   otel.Tracer("idchain/ledger"),
	}
	if cfg.AdminKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.AdminKey, "0x"))
		if err != nil {
			return nil, newError(KindInvalidInput, "new", errInvalidAdminKey)
		}
		c.adminKey = key
		c.adminAddr = crypto.PubkeyToAddress(key.PublicKey)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dial connects to the node at nodeURL and builds a client over it. Node
// managed accounts are enabled through the same connection.
func Dial(ctx context.Context, nodeURL string, cfg Config, opts ...Option) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, nodeURL)
	if err != nil {
		return nil, newError(KindUnreachable, "dial", err)
	}
	opts = append([]Option{WithAccountSender(&rpcAccountSender{rpc: ec.Client()})}, opts...)
	c, err := New(ec, cfg, opts...)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closer = ec.Close
	return c, nil
}

// Close releases the node connection when the client owns it.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Ping checks that the node answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.backend.ChainID(ctx); err != nil {
		return newError(KindUnreachable, "ping", err)
	}
	return nil
}

// ContractAddress returns the configured contract address.
func (c *Client) ContractAddress() string {
	return c.contract.Hex()
}

// AdminAddress returns the signing account, or the empty string when writes
// go through node-managed accounts.
func (c *Client) AdminAddress() string {
	if c.adminKey == nil {
		return ""
	}
	return c.adminAddr.Hex()
}

// ConfirmTimeout is the deadline applied to writes.
func (c *Client) ConfirmTimeout() time.Duration {
	return c.cfg.ConfirmTimeout
}

// IdentityHash derives the ledger key of a user: the hex SHA-256 digest of
// the identifier, 0x-prefixed. Deterministic and free of I/O.
func (c *Client) IdentityHash(userID string) (string, error) {
	return IdentityHash(userID)
}

// IdentityHash is the package-level form of Client.IdentityHash.
func IdentityHash(userID string) (string, error) {
	if userID == "" {
		return "", newError(KindInvalidInput, "identity_hash", errEmptyIdentifier)
	}
	sum := sha256.Sum256([]byte(userID))
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// contractKey is the identity hash as the contract stores it, without 0x.
func contractKey(userID string) (string, error) {
	h, err := IdentityHash(userID)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(h, "0x"), nil
}

func (c *Client) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	c.metrics.ObserveCall(op, outcome, time.Since(start))
}
