//  Copyright (C) 2021-2023 Chronicle Labs, Inc.
//
//  This program is free software: you can redistribute it and/or modify
//  it under the terms of the GNU Affero General Public License as
//  published by the Free Software Foundation, either version 3 of the
//  License, or (at your option) any later version.
//
//  This program is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU Affero General Public License for more details.
//
//  You should have received a copy of the GNU Affero General Public License
//  along with this program.  If not, see <http://www.gnu.org/licenses/>.

package core

import (
	"context"
	"sync"
	"time"

	"github.com/defiweb/go-eth/types"
	logger "github.com/sirupsen/logrus"
)

// ReceiptCallback receives the outcome of transactions awaited by a
// QueuingProcessor. Exactly one method is called once per transaction.
type ReceiptCallback interface {
	Accept(receipt *types.TransactionReceipt)
	Exception(hash types.Hash, err error)
}

// ReceiptCallbackFuncs adapts a pair of functions to ReceiptCallback.
type ReceiptCallbackFuncs struct {
	OnReceipt func(receipt *types.TransactionReceipt)
	OnError   func(hash types.Hash, err error)
}

func (f ReceiptCallbackFuncs) Accept(receipt *types.TransactionReceipt) {
	if f.OnReceipt != nil {
		f.OnReceipt(receipt)
	}
}

func (f ReceiptCallbackFuncs) Exception(hash types.Hash, err error) {
	if f.OnError != nil {
		f.OnError(hash, err)
	}
}

type pendingReceipt struct {
	hash     types.Hash
	attempts int
}

// QueuingProcessor returns immediately from WaitForTransactionReceipt and
// resolves all pending transactions from a single polling loop started with
// Run.
type QueuingProcessor struct {
	source   ReceiptSource
	callback ReceiptCallback
	executor Executor
	interval time.Duration
	attempts int

	mu      sync.Mutex
	pending map[types.Hash]*pendingReceipt
}

type QueuingOption func(*QueuingProcessor)

// WithCallbackExecutor runs callbacks on the executor instead of the polling
// goroutine.
func WithCallbackExecutor(exec Executor) QueuingOption {
	return func(p *QueuingProcessor) {
		p.executor = exec
	}
}

func WithQueuePolling(interval time.Duration, attempts int) QueuingOption {
	return func(p *QueuingProcessor) {
		if interval > 0 {
			p.interval = interval
		}
		if attempts > 0 {
			p.attempts = attempts
		}
	}
}

func NewQueuingProcessor(source ReceiptSource, callback ReceiptCallback, opts ...QueuingOption) *QueuingProcessor {
	p := &QueuingProcessor{
		source:   source,
		callback: callback,
		interval: DefaultPollingInterval,
		attempts: DefaultPollingAttempts,
		pending:  make(map[types.Hash]*pendingReceipt),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WaitForTransactionReceipt queues the hash and returns a placeholder
// receipt. Queuing the same hash twice has no effect.
func (p *QueuingProcessor) WaitForTransactionReceipt(_ context.Context, hash types.Hash) (*types.TransactionReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[hash]; !ok {
		p.pending[hash] = &pendingReceipt{hash: hash}
		PendingReceiptsGauge.WithLabelValues("queuing").Inc()
	}
	return EmptyReceipt(hash), nil
}

// Pending returns the number of transactions still waiting for a receipt.
func (p *QueuingProcessor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Run polls pending transactions every interval until ctx is done.
func (p *QueuingProcessor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Infof("Receipt queue stopped with %d pending transactions", p.Pending())
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *QueuingProcessor) tick(ctx context.Context) {
	p.mu.Lock()
	hashes := make([]types.Hash, 0, len(p.pending))
	for hash := range p.pending {
		hashes = append(hashes, hash)
	}
	p.mu.Unlock()
	if len(hashes) == 0 {
		return
	}

	receipts, errs := p.fetch(ctx, hashes)
	for i, hash := range hashes {
		p.resolve(hash, receipts[i], errs[i])
	}
}

func (p *QueuingProcessor) fetch(ctx context.Context, hashes []types.Hash) ([]*types.TransactionReceipt, []error) {
	ReceiptPollsCounter.WithLabelValues("queuing").Add(float64(len(hashes)))

	if bs, ok := p.source.(BatchReceiptSource); ok && len(hashes) > 1 {
		receipts, errs, err := bs.GetTransactionReceipts(ctx, hashes)
		if err == nil {
			return receipts, errs
		}
		// The batch failed as a whole, report it for every hash.
		errs = make([]error, len(hashes))
		for i := range errs {
			errs[i] = err
		}
		return make([]*types.TransactionReceipt, len(hashes)), errs
	}

	receipts := make([]*types.TransactionReceipt, len(hashes))
	errs := make([]error, len(hashes))
	for i, hash := range hashes {
		receipts[i], errs[i] = p.source.GetTransactionReceipt(ctx, hash)
	}
	return receipts, errs
}

func (p *QueuingProcessor) resolve(hash types.Hash, receipt *types.TransactionReceipt, err error) {
	p.mu.Lock()
	entry, ok := p.pending[hash]
	if !ok {
		p.mu.Unlock()
		return
	}
	state := ReceiptPending
	switch {
	case err != nil:
		state = ReceiptNodeError
	case receipt != nil:
		state = ReceiptMined
	default:
		entry.attempts++
		if entry.attempts >= p.attempts {
			state = ReceiptExhausted
		}
	}
	if state != ReceiptPending {
		delete(p.pending, hash)
		PendingReceiptsGauge.WithLabelValues("queuing").Dec()
	}
	attempts := entry.attempts
	p.mu.Unlock()

	if state == ReceiptPending {
		return
	}
	ReceiptsCounter.WithLabelValues("queuing", state.String()).Inc()
	logger.WithField("txHash", hash.String()).Debugf("Transaction resolved as %s", state)

	var notify func()
	switch state {
	case ReceiptMined:
		notify = func() { p.callback.Accept(receipt) }
	case ReceiptNodeError:
		qErr := &ReceiptQueryError{Hash: hash, Err: err}
		notify = func() { p.callback.Exception(hash, qErr) }
	case ReceiptExhausted:
		tErr := &ReceiptTimeoutError{Hash: hash, Attempts: attempts, Interval: p.interval}
		notify = func() { p.callback.Exception(hash, tErr) }
	}
	if p.executor != nil {
		p.executor.Go(notify)
		return
	}
	notify()
}
