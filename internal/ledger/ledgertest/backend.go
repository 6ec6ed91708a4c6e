// Package ledgertest provides an in-process DigitalIdentity contract for
// tests. It decodes calldata with the production ABI, applies contract
// semantics to in-memory state, mines every accepted transaction at once and
// can inject node and contract failures.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"idchain/internal/ledger"
)

const (
	// AdminKey is a throwaway secp256k1 key used to sign test transactions.
	AdminKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

	// ContractAddress is where the simulated contract lives.
	ContractAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

	ReasonAlreadyRegistered = "Identity already registered"
)

var chainID = big.NewInt(1337)

type entry struct {
	kind     string
	verifier common.Address
	at       time.Time
}

type identity struct {
	owner   common.Address
	entries []entry
}

// Backend implements ledger.Backend and ledger.AccountSender.
type Backend struct {
	mu sync.Mutex

	abi        abi.ABI
	contract   common.Address
	signer     types.Signer
	identities map[string]*identity
	nonces     map[common.Address]uint64
	receipts   map[common.Hash]*types.Receipt
	logs       []types.Log
	block      int64
	managed    map[common.Address]bool

	submissions int
	writes      int

	// Now stamps verification entries.
	Now func() time.Time

	unreachable  bool
	dropReceipts bool
	revertWrites string
	revertViews  string
	sendErr      error
}

// NewBackend returns an empty simulated chain.
func NewBackend() *Backend {
	parsed, err := ledger.ContractABI()
	if err != nil {
		panic(err)
	}
	return &Backend{
		abi:        parsed,
		contract:   common.HexToAddress(ContractAddress),
		signer:     types.LatestSignerForChainID(chainID),
		identities: make(map[string]*identity),
		nonces:     make(map[common.Address]uint64),
		receipts:   make(map[common.Hash]*types.Receipt),
		managed:    make(map[common.Address]bool),
		Now:        time.Now,
	}
}

// -----------------------------------------------------------------------------
// Fault injection
// -----------------------------------------------------------------------------

// SetUnreachable makes every node call fail as a refused connection.
func (b *Backend) SetUnreachable(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unreachable = v
}

// SetDropReceipts accepts transactions but never reports their receipts.
func (b *Backend) SetDropReceipts(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropReceipts = v
}

// SetRevertWrites makes every mined write fail with reason. Empty disables it.
func (b *Backend) SetRevertWrites(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revertWrites = reason
}

// SetRevertViews makes every read revert with reason. Empty disables it.
func (b *Backend) SetRevertViews(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revertViews = reason
}

// SetSendError makes SendTransaction fail with err once the transaction has
// been accepted, as a lost response would.
func (b *Backend) SetSendError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErr = err
}

// AddManagedAccount lets SendFromAccount send from addr.
func (b *Backend) AddManagedAccount(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.managed[common.HexToAddress(addr)] = true
}

// Submissions counts transactions accepted into the chain, mined or not.
func (b *Backend) Submissions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submissions
}

// Writes counts transactions that mined successfully.
func (b *Backend) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// VerificationCount returns the number of entries stored for userID.
func (b *Backend) VerificationCount(userID string) int {
	key := contractKey(userID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.identities[key]; ok {
		return len(id.entries)
	}
	return 0
}

// -----------------------------------------------------------------------------
// ledger.Backend
// -----------------------------------------------------------------------------

func (b *Backend) ChainID(_ context.Context) (*big.Int, error) {
	if err := b.reachable(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(chainID), nil
}

func (b *Backend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unreachable {
		return 0, errRefused()
	}
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	if err := b.reachable(); err != nil {
		return nil, err
	}
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unreachable {
		return errRefused()
	}
	from, err := types.Sender(b.signer, tx)
	if err != nil {
		return &RPCError{Code: -32000, Message: "invalid sender"}
	}
	if tx.To() == nil || *tx.To() != b.contract {
		return &RPCError{Code: -32000, Message: "unknown contract"}
	}
	if want := b.nonces[from]; tx.Nonce() != want {
		return &RPCError{Code: -32000, Message: fmt.Sprintf("nonce mismatch: have %d want %d", tx.Nonce(), want)}
	}
	b.nonces[from]++
	b.mine(tx.Hash(), tx.Data())
	if b.sendErr != nil {
		return b.sendErr
	}
	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unreachable {
		return nil, errRefused()
	}
	if b.dropReceipts {
		return nil, ethereum.NotFound
	}
	r, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unreachable {
		return nil, errRefused()
	}
	if msg.To == nil || *msg.To != b.contract {
		return nil, nil
	}
	method, args, err := b.decode(msg.Data)
	if err != nil {
		return nil, NewRevertError("invalid calldata")
	}
	if method.IsConstant() {
		if b.revertViews != "" {
			return nil, NewRevertError(b.revertViews)
		}
		return b.view(method, args)
	}
	// Simulated write, as used to replay a failed transaction.
	if reason := b.check(method.Name, args); reason != "" {
		return nil, NewRevertError(reason)
	}
	return nil, nil
}

// FilterLogs matches logs by address and topics. Block ranges are ignored.
func (b *Backend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unreachable {
		return nil, errRefused()
	}
	var out []types.Log
	for _, l := range b.logs {
		if len(q.Addresses) > 0 && !slices.Contains(q.Addresses, l.Address) {
			continue
		}
		if topicsMatch(q.Topics, l.Topics) {
			out = append(out, l)
		}
	}
	return out, nil
}

func topicsMatch(filter [][]common.Hash, topics []common.Hash) bool {
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(topics) || !slices.Contains(alternatives, topics[i]) {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// ledger.AccountSender
// -----------------------------------------------------------------------------

func (b *Backend) SendFromAccount(_ context.Context, from, to common.Address, data []byte, _ uint64) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unreachable {
		return common.Hash{}, errRefused()
	}
	if !b.managed[from] {
		return common.Hash{}, &RPCError{Code: -32000, Message: "unknown account"}
	}
	if to != b.contract {
		return common.Hash{}, &RPCError{Code: -32000, Message: "unknown contract"}
	}
	nonce := b.nonces[from]
	b.nonces[from]++
	hash := crypto.Keccak256Hash(from.Bytes(), new(big.Int).SetUint64(nonce).Bytes(), data)
	b.mine(hash, data)
	return hash, nil
}

// -----------------------------------------------------------------------------
// Contract semantics
// -----------------------------------------------------------------------------

// mine applies a transaction and stores its receipt. Callers hold mu.
func (b *Backend) mine(hash common.Hash, data []byte) {
	b.submissions++
	b.block++
	status := types.ReceiptStatusSuccessful

	method, args, err := b.decode(data)
	switch {
	case err != nil || method.IsConstant():
		status = types.ReceiptStatusFailed
	case b.check(method.Name, args) != "":
		status = types.ReceiptStatusFailed
	default:
		b.apply(method.Name, args)
		b.emit(hash, method.Name, args)
		b.writes++
	}

	b.receipts[hash] = &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: big.NewInt(b.block),
		GasUsed:     21_000,
	}
}

// check returns the revert reason a write would produce, if any.
func (b *Backend) check(method string, args []any) string {
	if b.revertWrites != "" {
		return b.revertWrites
	}
	if method == "registerIdentity" {
		key := args[0].(string)
		if _, ok := b.identities[key]; ok {
			return ReasonAlreadyRegistered
		}
	}
	return ""
}

func (b *Backend) apply(method string, args []any) {
	switch method {
	case "registerIdentity":
		key := args[0].(string)
		b.identities[key] = &identity{owner: args[1].(common.Address)}
	case "verifyIdentity":
		key := args[0].(string)
		id, ok := b.identities[key]
		if !ok {
			id = &identity{}
			b.identities[key] = id
		}
		id.entries = append(id.entries, entry{
			kind:     args[2].(string),
			verifier: args[1].(common.Address),
			at:       b.Now(),
		})
	}
}

// emit appends the event log a successful write produces. Callers hold mu.
func (b *Backend) emit(hash common.Hash, method string, args []any) {
	var (
		name    string
		indexed common.Address
		fields  []any
	)
	switch method {
	case "registerIdentity":
		name, indexed, fields = "IdentityRegistered", args[1].(common.Address), []any{args[0]}
	case "verifyIdentity":
		name, indexed, fields = "IdentityVerified", args[1].(common.Address), []any{args[0], args[2]}
	default:
		return
	}
	event := b.abi.Events[name]
	data, err := event.Inputs.NonIndexed().Pack(fields...)
	if err != nil {
		panic(err)
	}
	b.logs = append(b.logs, types.Log{
		Address:     b.contract,
		Topics:      []common.Hash{event.ID, common.BytesToHash(indexed.Bytes())},
		Data:        data,
		BlockNumber: uint64(b.block),
		TxHash:      hash,
		Index:       uint(len(b.logs)),
	})
}

func (b *Backend) view(method *abi.Method, args []any) ([]byte, error) {
	key := args[0].(string)
	id, exists := b.identities[key]

	switch method.Name {
	case "checkVerificationStatus":
		kind := args[1].(string)
		verified := false
		if exists {
			for _, e := range id.entries {
				if e.kind == kind {
					verified = true
					break
				}
			}
		}
		return method.Outputs.Pack(verified)
	case "getIdentityDetails":
		if !exists {
			return method.Outputs.Pack(common.Address{}, false)
		}
		return method.Outputs.Pack(id.owner, true)
	case "getVerificationCount":
		if !exists {
			return nil, NewRevertError("Identity does not exist")
		}
		return method.Outputs.Pack(big.NewInt(int64(len(id.entries))))
	case "getVerification":
		index := args[1].(*big.Int)
		if !exists || !index.IsInt64() || index.Int64() >= int64(len(id.entries)) {
			return nil, NewRevertError("Index out of bounds")
		}
		e := id.entries[index.Int64()]
		return method.Outputs.Pack(e.kind, e.verifier, big.NewInt(e.at.Unix()))
	}
	return nil, NewRevertError("unknown method")
}

func (b *Backend) decode(data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("short calldata")
	}
	method, err := b.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return method, args, nil
}

func (b *Backend) reachable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unreachable {
		return errRefused()
	}
	return nil
}

func contractKey(userID string) string {
	h, _ := ledger.IdentityHash(userID)
	return h[2:]
}

func errRefused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

// -----------------------------------------------------------------------------
// Node errors
// -----------------------------------------------------------------------------

// RPCError is a JSON-RPC error answered by the node.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string  { return e.Message }
func (e *RPCError) ErrorCode() int { return e.Code }

// RevertError mirrors the node's answer to a reverted call: code 3 with the
// ABI-encoded Error(string) payload as hex data.
type RevertError struct {
	reason string
	data   string
}

// NewRevertError encodes reason the way Solidity's require does.
func NewRevertError(reason string) *RevertError {
	stringType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringType}}.Pack(reason)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return &RevertError{
		reason: reason,
		data:   hexutil.Encode(append(selector, packed...)),
	}
}

func (e *RevertError) Error() string          { return "execution reverted: " + e.reason }
func (e *RevertError) ErrorCode() int         { return 3 }
func (e *RevertError) ErrorData() interface{} { return e.data }
