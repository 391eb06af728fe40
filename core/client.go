package core

import (
	"context"
	"math/big"

	"github.com/defiweb/go-eth/types"
)

// TxClient is the part of the node API used to submit transactions and
// observe their receipts.
type TxClient interface {
	// GetTransactionCount returns the number of transactions sent from the
	// account at the given block, used as the next nonce.
	GetTransactionCount(ctx context.Context, account types.Address, block types.BlockNumber) (uint64, error)

	// SendRawTransaction broadcasts a signed transaction and returns the hash
	// reported by the node.
	SendRawTransaction(ctx context.Context, data []byte) (types.Hash, error)

	// SendTransaction asks the node to sign and broadcast the transaction.
	SendTransaction(ctx context.Context, tx *TransactionRequest) (types.Hash, error)

	// Call executes a read-only call at the given block.
	Call(ctx context.Context, call *CallRequest, block types.BlockNumber) ([]byte, error)

	// GetTransactionReceipt returns the receipt, or nil if the transaction is
	// not mined yet.
	GetTransactionReceipt(ctx context.Context, hash types.Hash) (*types.TransactionReceipt, error)

	GasPrice(ctx context.Context) (*big.Int, error)

	ChainID(ctx context.Context) (uint64, error)
}

// FilterClient is the part of the node API used by filter subscriptions.
type FilterClient interface {
	NewFilter(ctx context.Context, query *types.FilterLogsQuery) (*big.Int, error)

	NewBlockFilter(ctx context.Context) (*big.Int, error)

	NewPendingTransactionFilter(ctx context.Context) (*big.Int, error)

	// GetFilterLogs returns all logs matching the filter.
	GetFilterLogs(ctx context.Context, id *big.Int) ([]types.Log, error)

	// GetLogFilterChanges returns logs produced since the last poll.
	GetLogFilterChanges(ctx context.Context, id *big.Int) ([]types.Log, error)

	// GetHashFilterChanges returns block or transaction hashes produced since
	// the last poll.
	GetHashFilterChanges(ctx context.Context, id *big.Int) ([]types.Hash, error)

	UninstallFilter(ctx context.Context, id *big.Int) (bool, error)

	GetLogs(ctx context.Context, query *types.FilterLogsQuery) ([]types.Log, error)
}

// PrivacyClient is the part of the node API used by privacy-group
// transactions.
type PrivacyClient interface {
	PrivGetTransactionCount(ctx context.Context, account types.Address, privacyGroupID string) (uint64, error)

	EeaSendRawTransaction(ctx context.Context, data []byte) (types.Hash, error)

	// PrivGetTransactionReceipt returns the private receipt, or nil if the
	// transaction is not mined yet.
	PrivGetTransactionReceipt(ctx context.Context, hash types.Hash) (*PrivateTransactionReceipt, error)
}
