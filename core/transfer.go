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
	"strings"

	"github.com/defiweb/go-eth/types"
	logger "github.com/sirupsen/logrus"
)

// TransferGasLimit is the gas used by a plain value transfer.
const TransferGasLimit = 21_000

// Unit is an Ether denomination, the value is the power of ten of wei.
type Unit int

const (
	Wei    Unit = 0
	Kwei   Unit = 3
	Mwei   Unit = 6
	Gwei   Unit = 9
	Szabo  Unit = 12
	Finney Unit = 15
	Ether  Unit = 18
	Kether Unit = 21
	Mether Unit = 24
	Gether Unit = 27
)

var unitNames = map[string]Unit{
	"wei":    Wei,
	"kwei":   Kwei,
	"mwei":   Mwei,
	"gwei":   Gwei,
	"szabo":  Szabo,
	"finney": Finney,
	"ether":  Ether,
	"kether": Kether,
	"mether": Mether,
	"gether": Gether,
}

// ParseUnit returns the unit with the given case-insensitive name.
func ParseUnit(name string) (Unit, error) {
	u, ok := unitNames[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown unit %q", name)
	}
	return u, nil
}

// ToWei converts a decimal amount in the given unit to wei. Amounts that are
// negative or not a whole number of wei are rejected.
func ToWei(amount string, unit Unit) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("%w: invalid amount %q", ErrInvalidTransaction, amount)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount %q", ErrInvalidTransaction, amount)
	}
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(unit)), nil)
	r.Mul(r, new(big.Rat).SetInt(factor))
	if !r.IsInt() {
		return nil, fmt.Errorf("%w: %s is not a whole number of wei", ErrInvalidTransaction, amount)
	}
	return new(big.Int).Set(r.Num()), nil
}

// Transfer sends Ether between accounts.
type Transfer struct {
	manager TransactionManager
	client  TxClient
}

func NewTransfer(manager TransactionManager, client TxClient) *Transfer {
	return &Transfer{manager: manager, client: client}
}

// SendFunds transfers amount to the recipient using the node's gas price and
// waits for the receipt.
func (t *Transfer) SendFunds(ctx context.Context, to types.Address, amount string, unit Unit) (*types.TransactionReceipt, error) {
	return t.SendFundsWithGas(ctx, to, amount, unit, nil, TransferGasLimit)
}

// SendFundsWithGas transfers amount to the recipient. A nil gas price is
// replaced by the node's price.
func (t *Transfer) SendFundsWithGas(
	ctx context.Context,
	to types.Address,
	amount string,
	unit Unit,
	gasPrice *big.Int,
	gasLimit uint64,
) (*types.TransactionReceipt, error) {
	value, err := ToWei(amount, unit)
	if err != nil {
		return nil, err
	}
	gasPrice, err = gasPriceOrNode(ctx, t.client, gasPrice)
	if err != nil {
		return nil, err
	}
	logger.
		WithField("from", t.manager.From().String()).
		WithField("to", to.String()).
		Infof("Transferring %s wei with gas price %s", value.String(), gasPrice.String())

	return t.manager.ExecuteTransaction(ctx, TxParams{
		GasPrice: gasPrice,
		GasLimit: gasLimit,
		To:       &to,
		Value:    value,
	})
}
