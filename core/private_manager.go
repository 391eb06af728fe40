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

	"github.com/defiweb/go-eth/types"
	logger "github.com/sirupsen/logrus"
)

// DefaultPrivateCallGasLimit is the gas limit of the private transaction
// executed by PrivateTransactionManager.SendCall.
const DefaultPrivateCallGasLimit = 3_000_000

// privateReceiptSource polls priv_getTransactionReceipt.
type privateReceiptSource struct {
	client PrivacyClient
}

func (s privateReceiptSource) GetTransactionReceipt(ctx context.Context, hash types.Hash) (*types.TransactionReceipt, error) {
	receipt, err := s.client.PrivGetTransactionReceipt(ctx, hash)
	if err != nil || receipt == nil {
		return nil, err
	}
	return receipt.Receipt, nil
}

// PrivateTransactionManager sends privacy-group transactions with
// eea_sendRawTransaction. The transaction payload is only visible to the
// members of the target group.
type PrivateTransactionManager struct {
	client      PrivacyClient
	credentials *Credentials
	privateFrom string
	target      PrivacyTarget
	groupID     string
	cfg         *managerConfig
	signer      PrivateSigner
}

// NewPrivateTransactionManager creates a manager for the given sender enclave
// key and privacy target. The nonce provider option is ignored, nonces are
// always read per privacy group.
func NewPrivateTransactionManager(
	client PrivacyClient,
	credentials *Credentials,
	privateFrom string,
	target PrivacyTarget,
	opts ...ManagerOption,
) (*PrivateTransactionManager, error) {
	groupID, err := PrivacyGroupFor(privateFrom, target)
	if err != nil {
		return nil, err
	}
	return &PrivateTransactionManager{
		client:      client,
		credentials: credentials,
		privateFrom: privateFrom,
		target:      target,
		groupID:     groupID,
		cfg:         newManagerConfig(privateReceiptSource{client: client}, opts),
	}, nil
}

func (m *PrivateTransactionManager) From() types.Address {
	return m.credentials.Address()
}

// PrivacyGroupID returns the group used for nonce lookups.
func (m *PrivateTransactionManager) PrivacyGroupID() string {
	return m.groupID
}

func (m *PrivateTransactionManager) SendTransaction(ctx context.Context, params TxParams) (types.Hash, error) {
	if err := params.validate(); err != nil {
		return types.Hash{}, err
	}
	from := m.From()

	var nonce uint64
	if params.Nonce != nil {
		nonce = *params.Nonce
	} else {
		var err error
		nonce, err = m.client.PrivGetTransactionCount(ctx, from, m.groupID)
		if err != nil {
			return types.Hash{}, fmt.Errorf("failed to get private nonce for %s: %w", from.String(), err)
		}
	}

	tx := &PrivateRawTransaction{
		RawTransaction: *params.rawTransaction(nonce),
		PrivateFrom:    m.privateFrom,
		Target:         m.target,
		Restriction:    RestrictionRestricted,
	}
	signed, err := m.signer.Sign(tx, m.cfg.chainID, m.credentials)
	if err != nil {
		return types.Hash{}, err
	}
	local := TxHash(signed)

	remote, err := m.client.EeaSendRawTransaction(ctx, signed)
	if err != nil {
		TransactionsCounter.WithLabelValues("private", from.String(), "rejected").Inc()
		return types.Hash{}, submissionError("eea_sendRawTransaction", err)
	}
	if !m.cfg.verifier.Verify(local, remote) {
		TransactionsCounter.WithLabelValues("private", from.String(), "hash_mismatch").Inc()
		return types.Hash{}, &TxHashMismatchError{Local: local, Remote: remote}
	}
	TransactionsCounter.WithLabelValues("private", from.String(), "sent").Inc()
	logger.
		WithField("from", from.String()).
		WithField("privacyGroupId", m.groupID).
		Debugf("Private transaction %s sent with nonce %d", remote.String(), nonce)
	return remote, nil
}

func (m *PrivateTransactionManager) ExecuteTransaction(ctx context.Context, params TxParams) (*types.TransactionReceipt, error) {
	return executeTransaction(ctx, m.SendTransaction, m.cfg.processor, params)
}

// SendCall executes data as a private transaction and returns the output
// recorded in the private receipt. Private state can only be read this way.
func (m *PrivateTransactionManager) SendCall(ctx context.Context, to types.Address, data []byte, _ types.BlockNumber) ([]byte, error) {
	receipt, err := m.ExecuteTransaction(ctx, TxParams{
		GasPrice: big.NewInt(0),
		GasLimit: DefaultPrivateCallGasLimit,
		To:       &to,
		Data:     data,
	})
	if err != nil {
		return nil, err
	}
	private, err := m.client.PrivGetTransactionReceipt(ctx, receipt.TransactionHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get private receipt for %s: %w", receipt.TransactionHash.String(), err)
	}
	if private == nil {
		return nil, fmt.Errorf("private receipt for %s not found", receipt.TransactionHash.String())
	}
	return private.Output, nil
}
