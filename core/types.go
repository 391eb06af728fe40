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
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/defiweb/go-eth/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RawTransaction is an unsigned legacy transaction. A nil To creates a
// contract.
type RawTransaction struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       *types.Address
	Value    *big.Int
	Data     []byte
}

// TxParams are the caller supplied parameters of a transaction. The sender
// and, unless Nonce is set, the nonce are filled in by the manager.
type TxParams struct {
	GasPrice *big.Int
	GasLimit uint64
	To       *types.Address
	Data     []byte
	Value    *big.Int

	// Constructor marks a contract creation, To must be nil.
	Constructor bool

	// Nonce overrides the nonce normally provided by the manager.
	Nonce *uint64
}

func (p TxParams) validate() error {
	if p.GasPrice != nil && p.GasPrice.Sign() < 0 {
		return fmt.Errorf("%w: negative gas price", ErrInvalidTransaction)
	}
	if p.Value != nil && p.Value.Sign() < 0 {
		return fmt.Errorf("%w: negative value", ErrInvalidTransaction)
	}
	if p.To == nil && !p.Constructor {
		return fmt.Errorf("%w: missing recipient", ErrInvalidTransaction)
	}
	if p.To != nil && p.Constructor {
		return fmt.Errorf("%w: contract creation cannot have a recipient", ErrInvalidTransaction)
	}
	return nil
}

func (p TxParams) rawTransaction(nonce uint64) *RawTransaction {
	return &RawTransaction{
		Nonce:    nonce,
		GasPrice: bigOrZero(p.GasPrice),
		GasLimit: p.GasLimit,
		To:       p.To,
		Value:    bigOrZero(p.Value),
		Data:     p.Data,
	}
}

// TransactionRequest is the eth_sendTransaction parameter object. The field
// order is the order of the serialized JSON object.
type TransactionRequest struct {
	From     types.Address   `json:"from"`
	To       *types.Address  `json:"to,omitempty"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Data     hexutil.Bytes   `json:"data"`
	Nonce    *hexutil.Uint64 `json:"nonce,omitempty"`
}

// CallRequest describes an eth_call. From is optional.
type CallRequest struct {
	From *types.Address
	To   *types.Address
	Data []byte
}

func (c *CallRequest) call() types.Call {
	return types.Call{From: c.From, To: c.To, Input: c.Data}
}

// PrivateTransactionReceipt is the receipt returned by
// priv_getTransactionReceipt.
type PrivateTransactionReceipt struct {
	Receipt        *types.TransactionReceipt
	Output         []byte
	PrivateFrom    string
	PrivateFor     []string
	PrivacyGroupID string
}

func (r *PrivateTransactionReceipt) UnmarshalJSON(data []byte) error {
	receipt := new(types.TransactionReceipt)
	if err := json.Unmarshal(data, receipt); err != nil {
		return err
	}
	var aux struct {
		Output         hexutil.Bytes `json:"output"`
		PrivateFrom    string        `json:"privateFrom"`
		PrivateFor     []string      `json:"privateFor"`
		PrivacyGroupID string        `json:"privacyGroupId"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Receipt = receipt
	r.Output = aux.Output
	r.PrivateFrom = aux.PrivateFrom
	r.PrivateFor = aux.PrivateFor
	r.PrivacyGroupID = aux.PrivacyGroupID
	return nil
}

// ReceiptState is the state of a transaction awaited by a receipt processor.
type ReceiptState int

const (
	ReceiptPending ReceiptState = iota
	ReceiptMined
	ReceiptExhausted
	ReceiptNodeError
)

func (s ReceiptState) String() string {
	switch s {
	case ReceiptPending:
		return "pending"
	case ReceiptMined:
		return "mined"
	case ReceiptExhausted:
		return "exhausted"
	case ReceiptNodeError:
		return "node_error"
	default:
		return "unknown"
	}
}

// EmptyReceipt returns a placeholder receipt carrying only the transaction
// hash. It is returned by processors that do not wait for the chain.
func EmptyReceipt(hash types.Hash) *types.TransactionReceipt {
	return &types.TransactionReceipt{TransactionHash: hash}
}

// IsEmptyReceipt reports whether the receipt is a placeholder returned by
// EmptyReceipt.
func IsEmptyReceipt(receipt *types.TransactionReceipt) bool {
	return receipt != nil &&
		receipt.BlockNumber == nil &&
		receipt.BlockHash.IsZero() &&
		receipt.Status == nil
}

// IsStatusOK reports whether the receipt describes a successful execution.
// Receipts without status (pre-Byzantium) are treated as successful.
func IsStatusOK(receipt *types.TransactionReceipt) bool {
	if receipt == nil || receipt.Status == nil {
		return true
	}
	return *receipt.Status == 1
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
