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
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/defiweb/go-eth/types"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	logger "github.com/sirupsen/logrus"

	"github.com/chronicleprotocol/txmanager/pkg/jsonrpc"
)

const (
	// DefaultFilterInterval is the default polling interval of subscriptions.
	DefaultFilterInterval = time.Second

	uninstallTimeout  = 10 * time.Second
	subscriptionQueue = 64
)

// FilterKind describes how a filter is installed on the node and how its
// events are fetched.
type FilterKind[T any] interface {
	Name() string

	install(ctx context.Context, client FilterClient) (*big.Int, error)
	initial(ctx context.Context, client FilterClient, id *big.Int) ([]T, error)
	changes(ctx context.Context, client FilterClient, id *big.Int) ([]T, error)
}

type logFilter struct {
	query types.FilterLogsQuery
}

// LogFilter delivers logs matching the query, starting with the logs
// already matching at install time.
func LogFilter(query types.FilterLogsQuery) FilterKind[types.Log] {
	return logFilter{query: query}
}

func (f logFilter) Name() string { return "log" }

func (f logFilter) install(ctx context.Context, client FilterClient) (*big.Int, error) {
	q := f.query
	return client.NewFilter(ctx, &q)
}

func (f logFilter) initial(ctx context.Context, client FilterClient, id *big.Int) ([]types.Log, error) {
	return client.GetFilterLogs(ctx, id)
}

func (f logFilter) changes(ctx context.Context, client FilterClient, id *big.Int) ([]types.Log, error) {
	return client.GetLogFilterChanges(ctx, id)
}

type blockFilter struct{}

// BlockFilter delivers the hashes of new blocks.
func BlockFilter() FilterKind[types.Hash] {
	return blockFilter{}
}

func (blockFilter) Name() string { return "block" }

func (blockFilter) install(ctx context.Context, client FilterClient) (*big.Int, error) {
	return client.NewBlockFilter(ctx)
}

func (blockFilter) initial(context.Context, FilterClient, *big.Int) ([]types.Hash, error) {
	return nil, nil
}

func (blockFilter) changes(ctx context.Context, client FilterClient, id *big.Int) ([]types.Hash, error) {
	return client.GetHashFilterChanges(ctx, id)
}

type pendingTransactionFilter struct{}

// PendingTransactionFilter delivers the hashes of transactions entering the
// node's pending pool.
func PendingTransactionFilter() FilterKind[types.Hash] {
	return pendingTransactionFilter{}
}

func (pendingTransactionFilter) Name() string { return "pending_transaction" }

func (pendingTransactionFilter) install(ctx context.Context, client FilterClient) (*big.Int, error) {
	return client.NewPendingTransactionFilter(ctx)
}

func (pendingTransactionFilter) initial(context.Context, FilterClient, *big.Int) ([]types.Hash, error) {
	return nil, nil
}

func (pendingTransactionFilter) changes(ctx context.Context, client FilterClient, id *big.Int) ([]types.Hash, error) {
	return client.GetHashFilterChanges(ctx, id)
}

// FilterState is the lifecycle state of a subscription.
type FilterState int32

const (
	FilterInstalled FilterState = iota
	FilterPolling
	FilterReinstalling
	FilterCancelled
)

func (s FilterState) String() string {
	switch s {
	case FilterInstalled:
		return "installed"
	case FilterPolling:
		return "polling"
	case FilterReinstalling:
		return "reinstalling"
	case FilterCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Subscription is a node filter polled by its own goroutine.
type Subscription[T any] struct {
	id       uuid.UUID
	client   FilterClient
	kind     FilterKind[T]
	interval time.Duration
	log      *logger.Entry

	events chan T
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	// filterID is owned by the poll goroutine until done is closed.
	filterID *big.Int
}

// Subscribe installs the filter and starts polling it every interval. An
// install failure is returned to the caller. Polling errors other than a
// lost filter are logged and skipped, a lost filter is reinstalled.
func Subscribe[T any](ctx context.Context, client FilterClient, kind FilterKind[T], interval time.Duration) (*Subscription[T], error) {
	if interval <= 0 {
		interval = DefaultFilterInterval
	}
	filterID, err := kind.install(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to install %s filter: %w", kind.Name(), err)
	}
	s := &Subscription[T]{
		id:       uuid.New(),
		client:   client,
		kind:     kind,
		interval: interval,
		events:   make(chan T, subscriptionQueue),
		done:     make(chan struct{}),
		filterID: filterID,
	}
	s.log = logger.WithField("subscription", s.id.String()).WithField("filter", kind.Name())

	initial, err := kind.initial(ctx, client, filterID)
	if err != nil {
		s.uninstall()
		return nil, fmt.Errorf("failed to get initial %s filter events: %w", kind.Name(), err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setState(FilterInstalled)
	go s.run(pollCtx, initial)
	return s, nil
}

// ID identifies the subscription in logs.
func (s *Subscription[T]) ID() uuid.UUID {
	return s.id
}

// Events returns the channel of filter events. It is closed once the
// subscription stops.
func (s *Subscription[T]) Events() <-chan T {
	return s.events
}

func (s *Subscription[T]) State() FilterState {
	return FilterState(s.state.Load())
}

// Unsubscribe stops polling and uninstalls the filter. Uninstall failures are
// only logged. Calling it more than once has no effect.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.uninstall()
	})
}

func (s *Subscription[T]) setState(state FilterState) {
	if FilterState(s.state.Swap(int32(state))) != state {
		s.log.Tracef("Filter state changed to %s", state)
	}
}

func (s *Subscription[T]) uninstall() {
	ctx, cancel := context.WithTimeout(context.Background(), uninstallTimeout)
	defer cancel()
	ok, err := s.client.UninstallFilter(ctx, s.filterID)
	if err != nil {
		s.log.Warnf("Failed to uninstall filter: %v", err)
		return
	}
	if !ok {
		s.log.Debugf("Filter was already removed by the node")
	}
}

func (s *Subscription[T]) run(ctx context.Context, initial []T) {
	defer close(s.done)
	defer close(s.events)
	defer s.setState(FilterCancelled)

	if !s.deliver(ctx, initial) {
		return
	}
	s.setState(FilterPolling)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.poll(ctx) {
				return
			}
		}
	}
}

// poll fetches and delivers one batch of changes. It returns false once the
// subscription is cancelled.
func (s *Subscription[T]) poll(ctx context.Context) bool {
	events, err := s.kind.changes(ctx, s.client, s.filterID)
	switch {
	case err == nil:
		return s.deliver(ctx, events)
	case ctx.Err() != nil:
		return false
	case jsonrpc.IsFilterNotFound(err):
		s.log.Warnf("Filter %s not found on the node, reinstalling", s.filterID.String())
		return s.reinstall(ctx)
	default:
		FilterErrorsCounter.WithLabelValues(s.kind.Name()).Inc()
		s.log.Errorf("Failed to get filter changes: %v", err)
		return true
	}
}

func (s *Subscription[T]) reinstall(ctx context.Context) bool {
	s.setState(FilterReinstalling)
	b := &backoff.Backoff{
		Min:    s.interval,
		Max:    time.Minute,
		Factor: 2,
		Jitter: true,
	}
	for {
		id, err := s.kind.install(ctx, s.client)
		if err == nil {
			FilterReinstallsCounter.WithLabelValues(s.kind.Name()).Inc()
			s.filterID = id
			s.setState(FilterPolling)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		FilterErrorsCounter.WithLabelValues(s.kind.Name()).Inc()
		delay := b.Duration()
		s.log.Errorf("Failed to reinstall filter, retrying in %s: %v", delay, err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
}

func (s *Subscription[T]) deliver(ctx context.Context, events []T) bool {
	for _, ev := range events {
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// ReplayLogs fetches the logs matching query between fromBlock and toBlock,
// inclusive, using eth_getLogs over consecutive ranges of chunk blocks. The
// block bounds of query are ignored. The logs channel is closed when the range
// is exhausted, the first error stops the replay.
func ReplayLogs(
	ctx context.Context,
	client FilterClient,
	query types.FilterLogsQuery,
	fromBlock, toBlock *big.Int,
	chunk uint64,
) (<-chan types.Log, <-chan error) {
	logs := make(chan types.Log)
	errCh := make(chan error, 1)

	go func() {
		defer close(logs)
		defer close(errCh)

		if chunk == 0 {
			chunk = 1
		}
		from := new(big.Int).Set(fromBlock)
		step := new(big.Int).SetUint64(chunk - 1)

		for from.Cmp(toBlock) <= 0 {
			end := new(big.Int).Add(from, step)
			if end.Cmp(toBlock) > 0 {
				end.Set(toBlock)
			}
			q := query
			q.FromBlock = types.BlockNumberFromBigIntPtr(new(big.Int).Set(from))
			q.ToBlock = types.BlockNumberFromBigIntPtr(new(big.Int).Set(end))

			res, err := client.GetLogs(ctx, &q)
			if err != nil {
				errCh <- fmt.Errorf("failed to get logs from block %s to %s: %w", from.String(), end.String(), err)
				return
			}
			for _, l := range res {
				select {
				case logs <- l:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
			from.Add(end, big.NewInt(1))
		}
	}()
	return logs, errCh
}
