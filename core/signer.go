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
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/defiweb/go-eth/types"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Credentials hold the private key used to sign transactions.
type Credentials struct {
	key     *ecdsa.PrivateKey
	address types.Address
}

func NewCredentials(key *ecdsa.PrivateKey) *Credentials {
	return &Credentials{
		key:     key,
		address: types.Address(crypto.PubkeyToAddress(key.PublicKey)),
	}
}

// CredentialsFromHex loads credentials from a hex encoded private key.
func CredentialsFromHex(secret string) (*Credentials, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(secret, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewCredentials(key), nil
}

// CredentialsFromKeystore decrypts a JSON keystore file.
func CredentialsFromKeystore(path, password string) (*Credentials, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file %s: %w", path, err)
	}
	key, err := keystore.DecryptKey(content, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore file %s: %w", path, err)
	}
	return NewCredentials(key.PrivateKey), nil
}

func (c *Credentials) Address() types.Address {
	return c.address
}

// Signer turns a raw transaction into its signed RLP encoding.
type Signer interface {
	// Sign signs the transaction. A chain ID of 0 disables replay protection.
	Sign(tx *RawTransaction, chainID uint64, credentials *Credentials) ([]byte, error)
}

// LegacySigner signs legacy transactions, using EIP-155 replay protection
// when a chain ID is given.
type LegacySigner struct{}

func (LegacySigner) Sign(tx *RawTransaction, chainID uint64, credentials *Credentials) ([]byte, error) {
	var signer gethtypes.Signer = gethtypes.HomesteadSigner{}
	if chainID != 0 {
		signer = gethtypes.NewEIP155Signer(new(big.Int).SetUint64(chainID))
	}
	signed, err := gethtypes.SignTx(gethtypes.NewTx(tx.legacyTx()), signer, credentials.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed transaction: %w", err)
	}
	return raw, nil
}

func (tx *RawTransaction) legacyTx() *gethtypes.LegacyTx {
	return &gethtypes.LegacyTx{
		Nonce:    tx.Nonce,
		GasPrice: bigOrZero(tx.GasPrice),
		Gas:      tx.GasLimit,
		To:       commonAddress(tx.To),
		Value:    bigOrZero(tx.Value),
		Data:     tx.Data,
	}
}

// TxHash returns the hash of a signed transaction.
func TxHash(signed []byte) types.Hash {
	return types.Hash(crypto.Keccak256Hash(signed))
}

func commonAddress(addr *types.Address) *common.Address {
	if addr == nil {
		return nil
	}
	a := common.Address(*addr)
	return &a
}

func addressBytes(addr *types.Address) []byte {
	if addr == nil {
		return []byte{}
	}
	return addr[:]
}
