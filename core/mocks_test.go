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
	"math/big"

	"github.com/defiweb/go-eth/types"
	"github.com/stretchr/testify/mock"
)

type mockTxClient struct {
	mock.Mock
}

func (c *mockTxClient) GetTransactionCount(ctx context.Context, account types.Address, block types.BlockNumber) (uint64, error) {
	args := c.Called(ctx, account, block)
	return args.Get(0).(uint64), args.Error(1)
}

func (c *mockTxClient) SendRawTransaction(ctx context.Context, data []byte) (types.Hash, error) {
	args := c.Called(ctx, data)
	return args.Get(0).(types.Hash), args.Error(1)
}

func (c *mockTxClient) SendTransaction(ctx context.Context, tx *TransactionRequest) (types.Hash, error) {
	args := c.Called(ctx, tx)
	return args.Get(0).(types.Hash), args.Error(1)
}

func (c *mockTxClient) Call(ctx context.Context, call *CallRequest, block types.BlockNumber) ([]byte, error) {
	args := c.Called(ctx, call, block)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (c *mockTxClient) GetTransactionReceipt(ctx context.Context, hash types.Hash) (*types.TransactionReceipt, error) {
	args := c.Called(ctx, hash)
	receipt := args.Get(0)
	if receipt == nil {
		return nil, args.Error(1)
	}
	return receipt.(*types.TransactionReceipt), args.Error(1)
}

func (c *mockTxClient) GasPrice(ctx context.Context) (*big.Int, error) {
	args := c.Called(ctx)
	price := args.Get(0)
	if price == nil {
		return nil, args.Error(1)
	}
	return price.(*big.Int), args.Error(1)
}

func (c *mockTxClient) ChainID(ctx context.Context) (uint64, error) {
	args := c.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

type mockFilterClient struct {
	mock.Mock
}

func (c *mockFilterClient) NewFilter(ctx context.Context, query *types.FilterLogsQuery) (*big.Int, error) {
	args := c.Called(ctx, query)
	return filterID(args.Get(0)), args.Error(1)
}

func (c *mockFilterClient) NewBlockFilter(ctx context.Context) (*big.Int, error) {
	args := c.Called(ctx)
	return filterID(args.Get(0)), args.Error(1)
}

func (c *mockFilterClient) NewPendingTransactionFilter(ctx context.Context) (*big.Int, error) {
	args := c.Called(ctx)
	return filterID(args.Get(0)), args.Error(1)
}

func (c *mockFilterClient) GetFilterLogs(ctx context.Context, id *big.Int) ([]types.Log, error) {
	args := c.Called(ctx, id)
	logs, _ := args.Get(0).([]types.Log)
	return logs, args.Error(1)
}

func (c *mockFilterClient) GetLogFilterChanges(ctx context.Context, id *big.Int) ([]types.Log, error) {
	args := c.Called(ctx, id)
	logs, _ := args.Get(0).([]types.Log)
	return logs, args.Error(1)
}

func (c *mockFilterClient) GetHashFilterChanges(ctx context.Context, id *big.Int) ([]types.Hash, error) {
	args := c.Called(ctx, id)
	hashes, _ := args.Get(0).([]types.Hash)
	return hashes, args.Error(1)
}

func (c *mockFilterClient) UninstallFilter(ctx context.Context, id *big.Int) (bool, error) {
	args := c.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (c *mockFilterClient) GetLogs(ctx context.Context, query *types.FilterLogsQuery) ([]types.Log, error) {
	args := c.Called(ctx, query)
	logs, _ := args.Get(0).([]types.Log)
	return logs, args.Error(1)
}

func filterID(v any) *big.Int {
	if v == nil {
		return nil
	}
	return v.(*big.Int)
}

type mockPrivacyClient struct {
	mock.Mock
}

func (c *mockPrivacyClient) PrivGetTransactionCount(ctx context.Context, account types.Address, privacyGroupID string) (uint64, error) {
	args := c.Called(ctx, account, privacyGroupID)
	return args.Get(0).(uint64), args.Error(1)
}

func (c *mockPrivacyClient) EeaSendRawTransaction(ctx context.Context, data []byte) (types.Hash, error) {
	args := c.Called(ctx, data)
	return args.Get(0).(types.Hash), args.Error(1)
}

func (c *mockPrivacyClient) PrivGetTransactionReceipt(ctx context.Context, hash types.Hash) (*PrivateTransactionReceipt, error) {
	args := c.Called(ctx, hash)
	receipt := args.Get(0)
	if receipt == nil {
		return nil, args.Error(1)
	}
	return receipt.(*PrivateTransactionReceipt), args.Error(1)
}

type recordingCallback struct {
	mock.Mock
}

func (c *recordingCallback) Accept(receipt *types.TransactionReceipt) {
	c.Called(receipt)
}

func (c *recordingCallback) Exception(hash types.Hash, err error) {
	c.Called(hash, err)
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}

func minedReceipt(hash types.Hash, status uint64, gasUsed uint64) *types.TransactionReceipt {
	return &types.TransactionReceipt{
		TransactionHash: hash,
		BlockHash:       types.MustHashFromHex("0x00000000000000000000000000000000000000000000000000000000000000bb", types.PadNone),
		BlockNumber:     big.NewInt(100),
		GasUsed:         gasUsed,
		Status:          uint64Ptr(status),
	}
}
