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
	"sync"

	"github.com/defiweb/go-eth/types"
	logger "github.com/sirupsen/logrus"
)

// NonceProvider returns the nonce for the next transaction of an account.
type NonceProvider interface {
	NextNonce(ctx context.Context, account types.Address) (uint64, error)

	// Release returns a nonce that was not consumed because the submission
	// failed.
	Release(account types.Address, nonce uint64)
}

// PendingNonceProvider asks the node for the pending transaction count on
// every call.
type PendingNonceProvider struct {
	client TxClient
}

func NewPendingNonceProvider(client TxClient) *PendingNonceProvider {
	return &PendingNonceProvider{client: client}
}

func (p *PendingNonceProvider) NextNonce(ctx context.Context, account types.Address) (uint64, error) {
	nonce, err := p.client.GetTransactionCount(ctx, account, types.PendingBlockNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce for %s: %w", account.String(), err)
	}
	return nonce, nil
}

func (p *PendingNonceProvider) Release(types.Address, uint64) {}

// LocalNonceProvider fetches the pending transaction count once per account
// and then hands out consecutive nonces without asking the node, so several
// transactions can be sent before the previous ones are mined.
type LocalNonceProvider struct {
	client TxClient

	mu   sync.Mutex
	next map[types.Address]uint64
}

func NewLocalNonceProvider(client TxClient) *LocalNonceProvider {
	return &LocalNonceProvider{
		client: client,
		next:   make(map[types.Address]uint64),
	}
}

func (p *LocalNonceProvider) NextNonce(ctx context.Context, account types.Address) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	nonce, ok := p.next[account]
	if !ok {
		var err error
		nonce, err = p.client.GetTransactionCount(ctx, account, types.PendingBlockNumber)
		if err != nil {
			return 0, fmt.Errorf("failed to get nonce for %s: %w", account.String(), err)
		}
	}
	p.next[account] = nonce + 1
	return nonce, nil
}

// Release rewinds the counter if nonce was the last one handed out.
// Otherwise later nonces are already in use and the cached value is dropped
// so the next call resynchronizes with the node.
func (p *LocalNonceProvider) Release(account types.Address, nonce uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next, ok := p.next[account]
	if !ok {
		return
	}
	if next == nonce+1 {
		p.next[account] = nonce
		return
	}
	logger.WithField("account", account.String()).Debugf("Dropping local nonce %d after failed submission of %d", next, nonce)
	delete(p.next, account)
}

// Reset drops the cached nonce of the account.
func (p *LocalNonceProvider) Reset(account types.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.next, account)
}
