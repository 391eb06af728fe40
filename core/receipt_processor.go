package core

import (
	"context"
	"fmt"
	"time"

	"github.com/defiweb/go-eth/types"
	logger "github.com/sirupsen/logrus"
)

const (
	// DefaultPollingInterval is roughly one block.
	DefaultPollingInterval = 15 * time.Second

	DefaultPollingAttempts = 40
)

// ReceiptSource returns transaction receipts, nil while not mined.
type ReceiptSource interface {
	GetTransactionReceipt(ctx context.Context, hash types.Hash) (*types.TransactionReceipt, error)
}

// BatchReceiptSource is a ReceiptSource able to fetch several receipts in one
// round trip. The returned slices are index aligned with hashes.
type BatchReceiptSource interface {
	ReceiptSource
	GetTransactionReceipts(ctx context.Context, hashes []types.Hash) ([]*types.TransactionReceipt, []error, error)
}

// ReceiptProcessor decides how a caller learns about the outcome of a sent
// transaction.
type ReceiptProcessor interface {
	// WaitForTransactionReceipt returns the receipt of the transaction, or a
	// placeholder built with EmptyReceipt if the processor does not wait.
	WaitForTransactionReceipt(ctx context.Context, hash types.Hash) (*types.TransactionReceipt, error)
}

// NoOpProcessor never queries the node.
type NoOpProcessor struct{}

func (NoOpProcessor) WaitForTransactionReceipt(_ context.Context, hash types.Hash) (*types.TransactionReceipt, error) {
	ReceiptsCounter.WithLabelValues("noop", ReceiptPending.String()).Inc()
	return EmptyReceipt(hash), nil
}

// PollingProcessor blocks the caller, querying the receipt every interval
// for at most attempts times.
type PollingProcessor struct {
	source   ReceiptSource
	interval time.Duration
	attempts int
}

// NewPollingProcessor creates a polling processor. Non-positive interval or
// attempts fall back to the defaults.
func NewPollingProcessor(source ReceiptSource, interval time.Duration, attempts int) *PollingProcessor {
	if interval <= 0 {
		interval = DefaultPollingInterval
	}
	if attempts <= 0 {
		attempts = DefaultPollingAttempts
	}
	return &PollingProcessor{
		source:   source,
		interval: interval,
		attempts: attempts,
	}
}

func (p *PollingProcessor) WaitForTransactionReceipt(ctx context.Context, hash types.Hash) (*types.TransactionReceipt, error) {
	log := logger.WithField("txHash", hash.String())

	for attempt := 1; attempt <= p.attempts; attempt++ {
		ReceiptPollsCounter.WithLabelValues("polling").Inc()

		receipt, err := p.source.GetTransactionReceipt(ctx, hash)
		if err != nil {
			ReceiptsCounter.WithLabelValues("polling", ReceiptNodeError.String()).Inc()
			return nil, &ReceiptQueryError{Hash: hash, Err: err}
		}
		if receipt != nil {
			log.Debugf("Transaction mined after %d attempts", attempt)
			ReceiptsCounter.WithLabelValues("polling", ReceiptMined.String()).Inc()
			return receipt, nil
		}
		if attempt == p.attempts {
			break
		}

		log.Tracef("Transaction is not yet mined, attempt %d of %d", attempt, p.attempts)
		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("stopped waiting for transaction %s: %w", hash.String(), ctx.Err())
		case <-timer.C:
		}
	}

	ReceiptsCounter.WithLabelValues("polling", ReceiptExhausted.String()).Inc()
	return nil, &ReceiptTimeoutError{
		Hash:     hash,
		Attempts: p.attempts,
		Interval: p.interval,
	}
}
