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
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/defiweb/go-eth/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	logger "github.com/sirupsen/logrus"

	"github.com/chronicleprotocol/txmanager/pkg/jsonrpc"
)

// TransactionManager sends transactions on behalf of a single account.
type TransactionManager interface {
	// From returns the sender address.
	From() types.Address

	// SendTransaction submits the transaction and returns its hash without
	// waiting for it to be mined.
	SendTransaction(ctx context.Context, params TxParams) (types.Hash, error)

	// ExecuteTransaction submits the transaction and waits for its receipt
	// using the configured ReceiptProcessor. A mined transaction with a
	// failed status returns *TransactionRevertedError.
	ExecuteTransaction(ctx context.Context, params TxParams) (*types.TransactionReceipt, error)

	// SendCall executes a read-only call and returns the raw output.
	SendCall(ctx context.Context, to types.Address, data []byte, block types.BlockNumber) ([]byte, error)
}

type managerConfig struct {
	processor ReceiptProcessor
	interval  time.Duration
	attempts  int
	chainID   uint64
	nonces    NonceProvider
	verifier  TxHashVerifier
	signer    Signer
}

type ManagerOption func(*managerConfig)

// WithReceiptProcessor replaces the default polling processor.
func WithReceiptProcessor(p ReceiptProcessor) ManagerOption {
	return func(c *managerConfig) {
		c.processor = p
	}
}

// WithPollingInterval sets the interval of the default polling processor.
func WithPollingInterval(interval time.Duration) ManagerOption {
	return func(c *managerConfig) {
		c.interval = interval
	}
}

// WithAttempts sets the attempts of the default polling processor.
func WithAttempts(attempts int) ManagerOption {
	return func(c *managerConfig) {
		c.attempts = attempts
	}
}

// WithChainID enables EIP-155 replay protection.
func WithChainID(chainID uint64) ManagerOption {
	return func(c *managerConfig) {
		c.chainID = chainID
	}
}

func WithNonceProvider(p NonceProvider) ManagerOption {
	return func(c *managerConfig) {
		c.nonces = p
	}
}

func WithTxHashVerifier(v TxHashVerifier) ManagerOption {
	return func(c *managerConfig) {
		c.verifier = v
	}
}

func WithSigner(s Signer) ManagerOption {
	return func(c *managerConfig) {
		c.signer = s
	}
}

func newManagerConfig(source ReceiptSource, opts []ManagerOption) *managerConfig {
	c := &managerConfig{
		interval: DefaultPollingInterval,
		attempts: DefaultPollingAttempts,
		verifier: StrictTxHashVerifier{},
		signer:   LegacySigner{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.processor == nil {
		c.processor = NewPollingProcessor(source, c.interval, c.attempts)
	}
	return c
}

// executeTransaction sends the transaction and waits for its receipt.
func executeTransaction(
	ctx context.Context,
	send func(ctx context.Context, params TxParams) (types.Hash, error),
	processor ReceiptProcessor,
	params TxParams,
) (*types.TransactionReceipt, error) {
	hash, err := send(ctx, params)
	if err != nil {
		return nil, err
	}
	receipt, err := processor.WaitForTransactionReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !IsStatusOK(receipt) {
		return nil, &TransactionRevertedError{
			Hash:    hash,
			GasUsed: receipt.GasUsed,
			Status:  *receipt.Status,
		}
	}
	return receipt, nil
}

// submissionError classifies a broadcast failure. Errors returned by the node
// become *SubmissionError, transport failures are wrapped as they are.
func submissionError(method string, err error) error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return &SubmissionError{Method: method, Err: rpcErr}
	}
	return fmt.Errorf("failed to send transaction: %w", err)
}

// RawTransactionManager signs transactions locally and broadcasts them with
// eth_sendRawTransaction.
type RawTransactionManager struct {
	client      TxClient
	credentials *Credentials
	cfg         *managerConfig
}

func NewRawTransactionManager(client TxClient, credentials *Credentials, opts ...ManagerOption) *RawTransactionManager {
	cfg := newManagerConfig(client, opts)
	if cfg.nonces == nil {
		cfg.nonces = NewPendingNonceProvider(client)
	}
	return &RawTransactionManager{
		client:      client,
		credentials: credentials,
		cfg:         cfg,
	}
}

func (m *RawTransactionManager) From() types.Address {
	return m.credentials.Address()
}

func (m *RawTransactionManager) ChainID() uint64 {
	return m.cfg.chainID
}

func (m *RawTransactionManager) SendTransaction(ctx context.Context, params TxParams) (types.Hash, error) {
	if err := params.validate(); err != nil {
		return types.Hash{}, err
	}
	from := m.From()

	var nonce uint64
	if params.Nonce != nil {
		nonce = *params.Nonce
	} else {
		var err error
		if nonce, err = m.cfg.nonces.NextNonce(ctx, from); err != nil {
			return types.Hash{}, err
		}
	}

	hash, err := m.SignAndSend(ctx, params.rawTransaction(nonce))
	if err != nil && params.Nonce == nil {
		var mismatch *TxHashMismatchError
		if !errors.As(err, &mismatch) {
			// The node did not accept the transaction, the nonce is still free.
			m.cfg.nonces.Release(from, nonce)
		}
	}
	return hash, err
}

func (m *RawTransactionManager) ExecuteTransaction(ctx context.Context, params TxParams) (*types.TransactionReceipt, error) {
	return executeTransaction(ctx, m.SendTransaction, m.cfg.processor, params)
}

func (m *RawTransactionManager) SendCall(ctx context.Context, to types.Address, data []byte, block types.BlockNumber) ([]byte, error) {
	from := m.From()
	return m.client.Call(ctx, &CallRequest{From: &from, To: &to, Data: data}, block)
}

// Sign signs the transaction without broadcasting it.
func (m *RawTransactionManager) Sign(tx *RawTransaction) ([]byte, error) {
	return m.cfg.signer.Sign(tx, m.cfg.chainID, m.credentials)
}

// SignAndSend signs and broadcasts the transaction, then checks that the
// node reports the same hash as the one computed locally.
func (m *RawTransactionManager) SignAndSend(ctx context.Context, tx *RawTransaction) (types.Hash, error) {
	from := m.From().String()
	signed, err := m.Sign(tx)
	if err != nil {
		return types.Hash{}, err
	}
	local := TxHash(signed)
	log := logger.WithField("from", from).WithField("txHash", local.String())

	remote, err := m.client.SendRawTransaction(ctx, signed)
	if err != nil {
		TransactionsCounter.WithLabelValues("raw", from, "rejected").Inc()
		log.Errorf("Failed to send transaction with nonce %d: %v", tx.Nonce, err)
		return types.Hash{}, submissionError("eth_sendRawTransaction", err)
	}
	if !m.cfg.verifier.Verify(local, remote) {
		TransactionsCounter.WithLabelValues("raw", from, "hash_mismatch").Inc()
		return types.Hash{}, &TxHashMismatchError{Local: local, Remote: remote}
	}
	TransactionsCounter.WithLabelValues("raw", from, "sent").Inc()
	log.Debugf("Transaction sent with nonce %d", tx.Nonce)
	return remote, nil
}

// ClientTransactionManager delegates signing to the node, which must manage
// the sender account.
type ClientTransactionManager struct {
	client TxClient
	from   types.Address
	cfg    *managerConfig
}

func NewClientTransactionManager(client TxClient, from types.Address, opts ...ManagerOption) *ClientTransactionManager {
	return &ClientTransactionManager{
		client: client,
		from:   from,
		cfg:    newManagerConfig(client, opts),
	}
}

func (m *ClientTransactionManager) From() types.Address {
	return m.from
}

func (m *ClientTransactionManager) SendTransaction(ctx context.Context, params TxParams) (types.Hash, error) {
	if err := params.validate(); err != nil {
		return types.Hash{}, err
	}
	req := &TransactionRequest{
		From:  m.from,
		To:    params.To,
		Value: (*hexutil.Big)(bigOrZero(params.Value)),
		Data:  params.Data,
	}
	if params.GasLimit != 0 {
		gas := hexutil.Uint64(params.GasLimit)
		req.Gas = &gas
	}
	if params.GasPrice != nil {
		req.GasPrice = (*hexutil.Big)(params.GasPrice)
	}
	if params.Nonce != nil {
		nonce := hexutil.Uint64(*params.Nonce)
		req.Nonce = &nonce
	}

	hash, err := m.client.SendTransaction(ctx, req)
	if err != nil {
		TransactionsCounter.WithLabelValues("client", m.from.String(), "rejected").Inc()
		return types.Hash{}, submissionError("eth_sendTransaction", err)
	}
	TransactionsCounter.WithLabelValues("client", m.from.String(), "sent").Inc()
	return hash, nil
}

func (m *ClientTransactionManager) ExecuteTransaction(ctx context.Context, params TxParams) (*types.TransactionReceipt, error) {
	return executeTransaction(ctx, m.SendTransaction, m.cfg.processor, params)
}

func (m *ClientTransactionManager) SendCall(ctx context.Context, to types.Address, data []byte, block types.BlockNumber) ([]byte, error) {
	return m.client.Call(ctx, &CallRequest{From: &m.from, To: &to, Data: data}, block)
}

// ReadonlyTransactionManager only performs calls. Any attempt to send a
// transaction fails with ErrReadOnly without contacting the node.
type ReadonlyTransactionManager struct {
	client TxClient
	from   types.Address
}

func NewReadonlyTransactionManager(client TxClient, from types.Address) *ReadonlyTransactionManager {
	return &ReadonlyTransactionManager{client: client, from: from}
}

func (m *ReadonlyTransactionManager) From() types.Address {
	return m.from
}

func (m *ReadonlyTransactionManager) SendTransaction(context.Context, TxParams) (types.Hash, error) {
	return types.Hash{}, ErrReadOnly
}

func (m *ReadonlyTransactionManager) ExecuteTransaction(context.Context, TxParams) (*types.TransactionReceipt, error) {
	return nil, ErrReadOnly
}

func (m *ReadonlyTransactionManager) SendCall(ctx context.Context, to types.Address, data []byte, block types.BlockNumber) ([]byte, error) {
	call := &CallRequest{To: &to, Data: data}
	if m.from != types.ZeroAddress {
		call.From = &m.from
	}
	return m.client.Call(ctx, call, block)
}

// gasPriceOrNode returns gasPrice, or the node's price when nil.
func gasPriceOrNode(ctx context.Context, client TxClient, gasPrice *big.Int) (*big.Int, error) {
	if gasPrice != nil {
		return gasPrice, nil
	}
	price, err := client.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return price, nil
}
