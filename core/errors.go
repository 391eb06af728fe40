package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/defiweb/go-eth/types"
)

var (
	// ErrReadOnly is returned when a read-only manager is asked to send a
	// transaction.
	ErrReadOnly = errors.New("read-only transaction manager cannot send transactions")

	ErrInvalidTransaction = errors.New("invalid transaction parameters")
)

// SubmissionError is returned when the node rejects a transaction.
type SubmissionError struct {
	Method string
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("failed to submit transaction with %s: %v", e.Method, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// TxHashMismatchError is returned when the hash reported by the node differs
// from the locally computed one.
type TxHashMismatchError struct {
	Local  types.Hash
	Remote types.Hash
}

func (e *TxHashMismatchError) Error() string {
	return fmt.Sprintf("transaction hash mismatch: local %s, remote %s", e.Local.String(), e.Remote.String())
}

// ReceiptTimeoutError is returned when no receipt was found after all
// polling attempts.
type ReceiptTimeoutError struct {
	Hash     types.Hash
	Attempts int
	Interval time.Duration
}

func (e *ReceiptTimeoutError) Error() string {
	return fmt.Sprintf(
		"transaction receipt for %s not generated after %d attempts with %s interval",
		e.Hash.String(),
		e.Attempts,
		e.Interval,
	)
}

// TransactionRevertedError is returned when a mined transaction failed.
type TransactionRevertedError struct {
	Hash    types.Hash
	GasUsed uint64
	Status  uint64
}

func (e *TransactionRevertedError) Error() string {
	return fmt.Sprintf(
		"transaction %s has failed with status %d, gas used %d",
		e.Hash.String(),
		e.Status,
		e.GasUsed,
	)
}

// ReceiptQueryError is returned when the node fails to answer a receipt
// query.
type ReceiptQueryError struct {
	Hash types.Hash
	Err  error
}

func (e *ReceiptQueryError) Error() string {
	return fmt.Sprintf("failed to get transaction receipt for %s: %v", e.Hash.String(), e.Err)
}

func (e *ReceiptQueryError) Unwrap() error {
	return e.Err
}
