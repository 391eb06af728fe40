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
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/defiweb/go-eth/rpc"
	"github.com/defiweb/go-eth/rpc/transport"
	"github.com/defiweb/go-eth/types"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/chronicleprotocol/txmanager/pkg/jsonrpc"
)

// RpcGateway exposes the Ethereum JSON-RPC methods used by this package. It
// implements TxClient, FilterClient and PrivacyClient.
//
// Standard eth_ methods go through the go-eth RPC client. Filters, batches,
// eth_sendTransaction and the privacy extensions are called on the transport
// directly.
type RpcGateway struct {
	client    *rpc.Client
	transport jsonrpc.Transport
}

func NewRpcGateway(t jsonrpc.Transport) (*RpcGateway, error) {
	client, err := rpc.NewClient(rpc.WithTransport(t))
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}
	return &RpcGateway{client: client, transport: t}, nil
}

func (g *RpcGateway) call(ctx context.Context, result any, method string, args ...any) error {
	if err := g.transport.Call(ctx, result, method, args...); err != nil {
		return wrapError(method, err)
	}
	return nil
}

// wrapError adds the method name to err. Node errors reported by go-eth
// transports are converted to *jsonrpc.Error.
func wrapError(method string, err error) error {
	var rpcErr *transport.RPCError
	if errors.As(err, &rpcErr) {
		nodeErr := &jsonrpc.Error{Code: rpcErr.Code, Message: rpcErr.Message}
		if rpcErr.Data != nil {
			if data, mErr := json.Marshal(rpcErr.Data); mErr == nil {
				nodeErr.Data = data
			}
		}
		err = nodeErr
	}
	return fmt.Errorf("%s failed: %w", method, err)
}

func (g *RpcGateway) GetTransactionCount(ctx context.Context, account types.Address, block types.BlockNumber) (uint64, error) {
	nonce, err := g.client.GetTransactionCount(ctx, account, block)
	if err != nil {
		return 0, wrapError("eth_getTransactionCount", err)
	}
	return nonce, nil
}

func (g *RpcGateway) SendRawTransaction(ctx context.Context, data []byte) (types.Hash, error) {
	hash, err := g.client.SendRawTransaction(ctx, data)
	if err != nil {
		return types.Hash{}, wrapError("eth_sendRawTransaction", err)
	}
	return *hash, nil
}

func (g *RpcGateway) SendTransaction(ctx context.Context, tx *TransactionRequest) (types.Hash, error) {
	var res types.Hash
	if err := g.call(ctx, &res, "eth_sendTransaction", tx); err != nil {
		return types.Hash{}, err
	}
	return res, nil
}

func (g *RpcGateway) Call(ctx context.Context, call *CallRequest, block types.BlockNumber) ([]byte, error) {
	res, _, err := g.client.Call(ctx, call.call(), block)
	if err != nil {
		return nil, wrapError("eth_call", err)
	}
	return res, nil
}

// GetTransactionReceipt returns nil while the transaction is pending.
func (g *RpcGateway) GetTransactionReceipt(ctx context.Context, hash types.Hash) (*types.TransactionReceipt, error) {
	res, err := g.client.GetTransactionReceipt(ctx, hash)
	if err != nil {
		return nil, wrapError("eth_getTransactionReceipt", err)
	}
	// A null result decodes into an empty receipt.
	if res == nil || res.TransactionHash == (types.Hash{}) {
		return nil, nil
	}
	return res, nil
}

// GetTransactionReceipts fetches several receipts with a single batch
// request when the transport supports it, falling back to sequential calls
// otherwise. The returned slices are index aligned with hashes.
func (g *RpcGateway) GetTransactionReceipts(ctx context.Context, hashes []types.Hash) ([]*types.TransactionReceipt, []error, error) {
	receipts := make([]*types.TransactionReceipt, len(hashes))
	errs := make([]error, len(hashes))

	bt, ok := g.transport.(jsonrpc.BatchTransport)
	if !ok {
		for i, hash := range hashes {
			receipts[i], errs[i] = g.GetTransactionReceipt(ctx, hash)
		}
		return receipts, errs, nil
	}

	batch := make([]jsonrpc.BatchElem, len(hashes))
	for i, hash := range hashes {
		batch[i] = jsonrpc.BatchElem{
			Method: "eth_getTransactionReceipt",
			Args:   []any{hash},
			Result: &receipts[i],
		}
	}
	if err := bt.CallBatch(ctx, batch); err != nil {
		return nil, nil, fmt.Errorf("eth_getTransactionReceipt batch failed: %w", err)
	}
	for i := range batch {
		if batch[i].Error != nil {
			errs[i] = wrapError("eth_getTransactionReceipt", batch[i].Error)
		}
	}
	return receipts, errs, nil
}

func (g *RpcGateway) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := g.client.GasPrice(ctx)
	if err != nil {
		return nil, wrapError("eth_gasPrice", err)
	}
	return price, nil
}

func (g *RpcGateway) ChainID(ctx context.Context) (uint64, error) {
	id, err := g.client.ChainID(ctx)
	if err != nil {
		return 0, wrapError("eth_chainId", err)
	}
	return id, nil
}

func (g *RpcGateway) NewFilter(ctx context.Context, query *types.FilterLogsQuery) (*big.Int, error) {
	return g.newFilter(ctx, "eth_newFilter", query)
}

func (g *RpcGateway) NewBlockFilter(ctx context.Context) (*big.Int, error) {
	return g.newFilter(ctx, "eth_newBlockFilter")
}

func (g *RpcGateway) NewPendingTransactionFilter(ctx context.Context) (*big.Int, error) {
	return g.newFilter(ctx, "eth_newPendingTransactionFilter")
}

func (g *RpcGateway) newFilter(ctx context.Context, method string, args ...any) (*big.Int, error) {
	var res hexutil.Big
	if err := g.call(ctx, &res, method, args...); err != nil {
		return nil, err
	}
	return res.ToInt(), nil
}

func (g *RpcGateway) GetFilterLogs(ctx context.Context, id *big.Int) ([]types.Log, error) {
	var res []types.Log
	if err := g.call(ctx, &res, "eth_getFilterLogs", (*hexutil.Big)(id)); err != nil {
		return nil, err
	}
	return res, nil
}

func (g *RpcGateway) GetLogFilterChanges(ctx context.Context, id *big.Int) ([]types.Log, error) {
	var res []types.Log
	if err := g.call(ctx, &res, "eth_getFilterChanges", (*hexutil.Big)(id)); err != nil {
		return nil, err
	}
	return res, nil
}

func (g *RpcGateway) GetHashFilterChanges(ctx context.Context, id *big.Int) ([]types.Hash, error) {
	var res []types.Hash
	if err := g.call(ctx, &res, "eth_getFilterChanges", (*hexutil.Big)(id)); err != nil {
		return nil, err
	}
	return res, nil
}

func (g *RpcGateway) UninstallFilter(ctx context.Context, id *big.Int) (bool, error) {
	var res bool
	if err := g.call(ctx, &res, "eth_uninstallFilter", (*hexutil.Big)(id)); err != nil {
		return false, err
	}
	return res, nil
}

func (g *RpcGateway) GetLogs(ctx context.Context, query *types.FilterLogsQuery) ([]types.Log, error) {
	logs, err := g.client.GetLogs(ctx, *query)
	if err != nil {
		return nil, wrapError("eth_getLogs", err)
	}
	return logs, nil
}

func (g *RpcGateway) PrivGetTransactionCount(ctx context.Context, account types.Address, privacyGroupID string) (uint64, error) {
	var res hexutil.Uint64
	if err := g.call(ctx, &res, "priv_getTransactionCount", account, privacyGroupID); err != nil {
		return 0, err
	}
	return uint64(res), nil
}

func (g *RpcGateway) EeaSendRawTransaction(ctx context.Context, data []byte) (types.Hash, error) {
	var res types.Hash
	if err := g.call(ctx, &res, "eea_sendRawTransaction", hexutil.Bytes(data)); err != nil {
		return types.Hash{}, err
	}
	return res, nil
}

func (g *RpcGateway) PrivGetTransactionReceipt(ctx context.Context, hash types.Hash) (*PrivateTransactionReceipt, error) {
	var res *PrivateTransactionReceipt
	if err := g.call(ctx, &res, "priv_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	return res, nil
}
