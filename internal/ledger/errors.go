package ledger

import (
	"errors"
	"fmt"
)

// ErrorKind is the failure taxonomy of ledger calls.
type ErrorKind string

const (
	// KindUnreachable means the node could not be reached or did not answer.
	// Nothing was submitted.
	KindUnreachable ErrorKind = "unreachable"

	// KindReverted means the contract rejected the call or the mined
	// transaction failed.
	KindReverted ErrorKind = "reverted"

	// KindRejected means the node refused the signed transaction
	// (nonce, funds, malformed). Nothing was mined.
	KindRejected ErrorKind = "rejected"

	// KindNoSendingAddress means no admin key is configured and the caller
	// supplied no usable account to send from.
	KindNoSendingAddress ErrorKind = "no_sending_address"

	// KindUnconfirmed means a transaction was submitted, or may have been,
	// but no receipt was seen before the deadline. TxHash identifies it.
	// Callers must reconcile and never resubmit blindly.
	KindUnconfirmed ErrorKind = "unconfirmed"

	// KindBadResponse means the node answered with data that does not decode
	// against the contract ABI.
	KindBadResponse ErrorKind = "bad_response"

	// KindInvalidInput means the call was rejected locally before any I/O.
	KindInvalidInput ErrorKind = "invalid_input"
)

var (
	errInvalidContractAddress = errors.New("invalid contract address")
	errInvalidAdminKey        = errors.New("invalid admin private key")
	errEmptyIdentifier        = errors.New("identifier is empty")
	errInvalidAddress         = errors.New("invalid account address")
	errEmptyKind              = errors.New("verification kind is empty")
	errNoSender               = errors.New("no admin key configured and no sending account available")
	errReceiptDeadline        = errors.New("no receipt before confirm deadline")
	errExecutionReverted      = errors.New("execution reverted")
)

// Error wraps ledger failures with their kind and, for writes, the hash of
// the submitted transaction.
type Error struct {
	Kind      ErrorKind
	Op        string
	TxHash    string
	Reason    string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("ledger %s [%s]", e.Op, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.TxHash != "" {
		msg += " (tx " + e.TxHash + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{
		Kind:      kind,
		Op:        op,
		Err:       err,
		Retryable: kind == KindUnreachable,
	}
}

// KindOf returns the kind of a ledger error, or the empty kind for other errors.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// TxHashOf returns the transaction hash carried by a ledger error, if any.
func TxHashOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.TxHash
	}
	return ""
}

// IsRetryable reports whether err is safe to retry. Only failures that
// provably submitted nothing are retryable.
func IsRetryable(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}
