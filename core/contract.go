package core

import (
	"context"
	"fmt"
	"math/big"

	"github.com/defiweb/go-eth/abi"
	"github.com/defiweb/go-eth/types"
)

// Contract binds a deployed contract ABI to a transaction manager.
type Contract struct {
	address types.Address
	abi     *abi.Contract
	manager TransactionManager
}

func NewContract(address types.Address, contractABI *abi.Contract, manager TransactionManager) *Contract {
	return &Contract{
		address: address,
		abi:     contractABI,
		manager: manager,
	}
}

func (c *Contract) Address() types.Address {
	return c.address
}

func (c *Contract) encode(method string, args ...any) ([]byte, error) {
	m, ok := c.abi.Methods[method]
	if !ok {
		return nil, fmt.Errorf("method %s not found in contract ABI", method)
	}
	calldata, err := m.EncodeArgs(args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s arguments: %w", method, err)
	}
	return calldata, nil
}

// Call executes a read-only method at the latest block and decodes its
// return values into results.
func (c *Contract) Call(ctx context.Context, method string, results []any, args ...any) error {
	calldata, err := c.encode(method, args...)
	if err != nil {
		return err
	}
	b, err := c.manager.SendCall(ctx, c.address, calldata, types.LatestBlockNumber)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	if err := c.abi.Methods[method].DecodeValues(b, results...); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// Transact sends a transaction invoking the method and waits for its
// receipt.
func (c *Contract) Transact(
	ctx context.Context,
	method string,
	gasPrice *big.Int,
	gasLimit uint64,
	value *big.Int,
	args ...any,
) (*types.TransactionReceipt, error) {
	calldata, err := c.encode(method, args...)
	if err != nil {
		return nil, err
	}
	return c.manager.ExecuteTransaction(ctx, TxParams{
		GasPrice: gasPrice,
		GasLimit: gasLimit,
		To:       &c.address,
		Data:     calldata,
		Value:    value,
	})
}

// DeployContract sends a contract creation transaction. bytecode must
// already contain the encoded constructor arguments. The returned contract
// is nil when the receipt processor does not wait for the chain.
func DeployContract(
	ctx context.Context,
	manager TransactionManager,
	contractABI *abi.Contract,
	bytecode []byte,
	gasPrice *big.Int,
	gasLimit uint64,
) (*Contract, *types.TransactionReceipt, error) {
	receipt, err := manager.ExecuteTransaction(ctx, TxParams{
		GasPrice:    gasPrice,
		GasLimit:    gasLimit,
		Data:        bytecode,
		Constructor: true,
	})
	if err != nil {
		return nil, nil, err
	}
	if receipt.ContractAddress == nil {
		return nil, receipt, nil
	}
	return NewContract(*receipt.ContractAddress, contractABI, manager), receipt, nil
}
