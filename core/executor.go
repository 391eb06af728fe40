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

	"github.com/defiweb/go-eth/types"
)

// Executor runs functions asynchronously. It is owned by the caller.
type Executor interface {
	Go(fn func())
}

// GoExecutor starts a new goroutine for every function.
type GoExecutor struct{}

func (GoExecutor) Go(fn func()) {
	go fn()
}

// WorkerPool runs functions on a fixed number of goroutines. Go blocks while
// all workers are busy and the queue is full.
type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

func NewWorkerPool(workers, queue int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	p := &WorkerPool{tasks: make(chan func(), queue)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for fn := range p.tasks {
				fn()
			}
		}()
	}
	return p
}

func (p *WorkerPool) Go(fn func()) {
	p.tasks <- fn
}

// Close stops accepting work and waits for queued functions to finish.
// Calling Go after Close panics.
func (p *WorkerPool) Close() {
	p.once.Do(func() { close(p.tasks) })
	p.wg.Wait()
}

// Task is the pending result of an asynchronous operation.
type Task[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc
	value  T
	err    error
}

// Go runs fn on the executor and returns a handle to its result. The context
// passed to fn is canceled by Task.Cancel or when ctx is done.
func Go[T any](ctx context.Context, exec Executor, fn func(ctx context.Context) (T, error)) *Task[T] {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task[T]{
		done:   make(chan struct{}),
		cancel: cancel,
	}
	exec.Go(func() {
		defer close(t.done)
		defer cancel()
		t.value, t.err = fn(ctx)
	})
	return t
}

// Done is closed once the result is available.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done. Returning because of
// ctx does not cancel the task.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel asks the task to stop. For transactions it stops waiting for the
// receipt, a broadcast transaction is not recalled.
func (t *Task[T]) Cancel() {
	t.cancel()
}

// SendTransactionAsync sends the transaction on the executor.
func SendTransactionAsync(ctx context.Context, exec Executor, m TransactionManager, params TxParams) *Task[types.Hash] {
	return Go(ctx, exec, func(ctx context.Context) (types.Hash, error) {
		return m.SendTransaction(ctx, params)
	})
}

// ExecuteTransactionAsync sends the transaction and waits for its receipt on
// the executor.
func ExecuteTransactionAsync(ctx context.Context, exec Executor, m TransactionManager, params TxParams) *Task[*types.TransactionReceipt] {
	return Go(ctx, exec, func(ctx context.Context) (*types.TransactionReceipt, error) {
		return m.ExecuteTransaction(ctx, params)
	})
}
