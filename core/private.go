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
	"encoding/base64"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// RestrictionRestricted limits the private payload to the listed
// participants.
const RestrictionRestricted = "restricted"

// PrivacyTarget selects the recipients of a private transaction. It is
// either a PrivacyGroupID or a Participants list.
type PrivacyTarget interface {
	privacyTarget()
}

// PrivacyGroupID is the base64 id of an existing privacy group.
type PrivacyGroupID string

func (PrivacyGroupID) privacyTarget() {}

// Participants lists the base64 enclave keys of the recipients. The sender
// key does not need to be included.
type Participants []string

func (Participants) privacyTarget() {}

// PrivateRawTransaction is an unsigned privacy-group transaction.
type PrivateRawTransaction struct {
	RawTransaction

	// PrivateFrom is the base64 enclave key of the sender.
	PrivateFrom string
	Target      PrivacyTarget
	Restriction string
}

// PrivateSigner signs privacy-group transactions.
type PrivateSigner struct{}

func (PrivateSigner) Sign(tx *PrivateRawTransaction, chainID uint64, credentials *Credentials) ([]byte, error) {
	privateFrom, err := decodeEnclaveKey(tx.PrivateFrom)
	if err != nil {
		return nil, err
	}
	target, err := encodeTarget(tx.Target)
	if err != nil {
		return nil, err
	}
	restriction := tx.Restriction
	if restriction == "" {
		restriction = RestrictionRestricted
	}

	fields := []any{
		tx.Nonce,
		bigOrZero(tx.GasPrice),
		tx.GasLimit,
		addressBytes(tx.To),
		bigOrZero(tx.Value),
		tx.Data,
	}
	suffix := []any{privateFrom, target, []byte(restriction)}

	unsigned := append([]any{}, fields...)
	if chainID != 0 {
		unsigned = append(unsigned, chainID, uint(0), uint(0))
	}
	unsigned = append(unsigned, suffix...)
	payload, err := rlp.EncodeToBytes(unsigned)
	if err != nil {
		return nil, fmt.Errorf("failed to encode private transaction: %w", err)
	}

	sig, err := crypto.Sign(crypto.Keccak256(payload), credentials.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign private transaction: %w", err)
	}
	v := new(big.Int).SetUint64(uint64(sig[64]) + 27)
	if chainID != 0 {
		v.SetUint64(uint64(sig[64]) + 35 + 2*chainID)
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])

	signed := append(append([]any{}, fields...), v, r, s)
	signed = append(signed, suffix...)
	raw, err := rlp.EncodeToBytes(signed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed private transaction: %w", err)
	}
	return raw, nil
}

func encodeTarget(target PrivacyTarget) (any, error) {
	switch t := target.(type) {
	case PrivacyGroupID:
		return decodeEnclaveKey(string(t))
	case Participants:
		keys := make([][]byte, 0, len(t))
		for _, p := range t {
			key, err := decodeEnclaveKey(p)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
		return keys, nil
	default:
		return nil, fmt.Errorf("%w: missing privacy target", ErrInvalidTransaction)
	}
}

// LegacyPrivacyGroupID derives the id of the implicit privacy group formed
// by the sender and the participants: the base64 keccak256 of the RLP list of
// the distinct keys. Keys are ordered the same way the node orders them.
func LegacyPrivacyGroupID(privateFrom string, participants Participants) (string, error) {
	var keys [][]byte
	seen := make(map[string]bool)
	for _, k := range append([]string{privateFrom}, participants...) {
		key, err := decodeEnclaveKey(k)
		if err != nil {
			return "", err
		}
		if seen[string(key)] {
			continue
		}
		seen[string(key)] = true
		keys = append(keys, key)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return bytesHashCode(keys[i]) < bytesHashCode(keys[j])
	})
	encoded, err := rlp.EncodeToBytes(keys)
	if err != nil {
		return "", fmt.Errorf("failed to encode privacy group: %w", err)
	}
	return base64.StdEncoding.EncodeToString(crypto.Keccak256(encoded)), nil
}

// PrivacyGroupFor returns the privacy group id used for nonce lookups.
func PrivacyGroupFor(privateFrom string, target PrivacyTarget) (string, error) {
	switch t := target.(type) {
	case PrivacyGroupID:
		return string(t), nil
	case Participants:
		return LegacyPrivacyGroupID(privateFrom, t)
	default:
		return "", fmt.Errorf("%w: missing privacy target", ErrInvalidTransaction)
	}
}

// bytesHashCode is the 31-based polynomial hash the node sorts group
// members by, computed over signed bytes with 32-bit overflow.
func bytesHashCode(b []byte) int32 {
	h := int32(1)
	for _, v := range b {
		h = 31*h + int32(int8(v))
	}
	return h
}

func decodeEnclaveKey(key string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid enclave key %q: %v", ErrInvalidTransaction, key, err)
	}
	return b, nil
}
