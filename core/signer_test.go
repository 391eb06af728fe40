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
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/defiweb/go-eth/types"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacySigner_EIP155(t *testing.T) {
	creds, err := CredentialsFromHex("0x4646464646464646464646464646464646464646464646464646464646464646")
	require.NoError(t, err)
	to := types.MustAddressFromHex("0x3535353535353535353535353535353535353535")

	gasPrice, _ := new(big.Int).SetString("20000000000", 10)
	value, _ := new(big.Int).SetString("1000000000000000000", 10)
	signed, err := LegacySigner{}.Sign(&RawTransaction{
		Nonce:    9,
		GasPrice: gasPrice,
		GasLimit: 21000,
		To:       &to,
		Value:    value,
	}, 1, creds)
	require.NoError(t, err)

	expected := types.MustBytesFromHex("0xf86c098504a817c800825208943535353535353535353535353535353535353535880de0b6b3a76400008025a028ef61340bd939bc2195fe537567866003e1a15d3c71ff63e1590620aa636276a067cbe9d8997f761aecb703304b3800ccf555c9f3dc64214b297fb1966a3b6d83")
	assert.Equal(t, []byte(expected), signed)
	assert.Equal(t, types.Hash(crypto.Keccak256Hash(expected)), TxHash(signed))
}

func TestLegacySigner_NoChainID(t *testing.T) {
	creds := testCredentials(t)
	signed, err := LegacySigner{}.Sign(&RawTransaction{
		Nonce:    1,
		GasLimit: 100_000,
		Data:     []byte{0x60, 0x80, 0x60, 0x40},
	}, 0, creds)
	require.NoError(t, err)

	tx := new(gethtypes.Transaction)
	require.NoError(t, tx.UnmarshalBinary(signed))
	assert.False(t, tx.Protected())
	assert.Nil(t, tx.To())
	assert.Equal(t, 0, tx.GasPrice().Sign())
	assert.Equal(t, 0, tx.Value().Sign())

	sender, err := gethtypes.Sender(gethtypes.HomesteadSigner{}, tx)
	require.NoError(t, err)
	assert.Equal(t, creds.Address(), types.Address(sender))
}

func TestCredentialsFromHex(t *testing.T) {
	a, err := CredentialsFromHex(testSecretKey)
	require.NoError(t, err)
	b, err := CredentialsFromHex("0x" + testSecretKey)
	require.NoError(t, err)
	assert.Equal(t, a.Address(), b.Address())

	_, err = CredentialsFromHex("zz")
	assert.Error(t, err)
}

func TestCredentialsFromKeystore(t *testing.T) {
	key, err := crypto.HexToECDSA(testSecretKey)
	require.NoError(t, err)
	content, err := keystore.EncryptKey(&keystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}, "secret", keystore.LightScryptN, keystore.LightScryptP)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	creds, err := CredentialsFromKeystore(path, "secret")
	require.NoError(t, err)
	assert.Equal(t, testCredentials(t).Address(), creds.Address())

	_, err = CredentialsFromKeystore(path, "wrong")
	assert.Error(t, err)
	_, err = CredentialsFromKeystore(filepath.Join(t.TempDir(), "missing.json"), "secret")
	assert.Error(t, err)
}
