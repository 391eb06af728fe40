package core

import (
	"context"
	"encoding/base64"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/defiweb/go-eth/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chronicleprotocol/txmanager/pkg/jsonrpc"
)

const (
	enclaveKeyA = "A1aVtMxLCUHmBVHXoZzzBgPbW/wj5axDpW9X8l91SGo="
	enclaveKeyB = "Ko2bVqD+nNlNYL5EE7y3IdOnviftjiizpjRt+HTuFBs="
	enclaveKeyC = "k2zXEin4Ip/qBGlRkJejnGWdP9cjkK+DAvKNW31L2C8="
)

func TestLegacyPrivacyGroupID(t *testing.T) {
	id, err := LegacyPrivacyGroupID(enclaveKeyA, Participants{enclaveKeyB, enclaveKeyC})
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(id)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	// Membership defines the group, not the order or the sender.
	same, err := LegacyPrivacyGroupID(enclaveKeyC, Participants{enclaveKeyB, enclaveKeyA, enclaveKeyB})
	require.NoError(t, err)
	assert.Equal(t, id, same)

	other, err := LegacyPrivacyGroupID(enclaveKeyA, Participants{enclaveKeyB})
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	_, err = LegacyPrivacyGroupID("not base64!", nil)
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestPrivacyGroupFor(t *testing.T) {
	id, err := PrivacyGroupFor(enclaveKeyA, PrivacyGroupID("group"))
	require.NoError(t, err)
	assert.Equal(t, "group", id)

	_, err = PrivacyGroupFor(enclaveKeyA, nil)
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestBytesHashCode(t *testing.T) {
	assert.Equal(t, int32(1), bytesHashCode(nil))
	assert.Equal(t, int32(31+1), bytesHashCode([]byte{1}))
	assert.Equal(t, int32(31-1), bytesHashCode([]byte{0xff}))
}

func TestPrivateSigner_Sign(t *testing.T) {
	creds := testCredentials(t)
	to := testRecipient
	tx := &PrivateRawTransaction{
		RawTransaction: RawTransaction{
			Nonce:    2,
			GasPrice: big.NewInt(0),
			GasLimit: 3000000,
			To:       &to,
			Value:    big.NewInt(0),
			Data:     []byte{0xde, 0xad},
		},
		PrivateFrom: enclaveKeyA,
		Target:      PrivacyGroupID(enclaveKeyB),
		Restriction: RestrictionRestricted,
	}
	chainID := uint64(2018)

	signed, err := PrivateSigner{}.Sign(tx, chainID, creds)
	require.NoError(t, err)

	var items []rlp.RawValue
	require.NoError(t, rlp.DecodeBytes(signed, &items))
	require.Len(t, items, 12)

	var v, r, s big.Int
	require.NoError(t, rlp.DecodeBytes(items[6], &v))
	require.NoError(t, rlp.DecodeBytes(items[7], &r))
	require.NoError(t, rlp.DecodeBytes(items[8], &s))
	recID := v.Uint64() - 35 - 2*chainID
	require.LessOrEqual(t, recID, uint64(1))

	var restriction []byte
	require.NoError(t, rlp.DecodeBytes(items[11], &restriction))
	assert.Equal(t, RestrictionRestricted, string(restriction))

	// Rebuild the signing payload and recover the sender.
	unsigned := append([]rlp.RawValue{}, items[:6]...)
	for _, extra := range []any{chainID, uint(0), uint(0)} {
		b, err := rlp.EncodeToBytes(extra)
		require.NoError(t, err)
		unsigned = append(unsigned, b)
	}
	unsigned = append(unsigned, items[9:]...)
	payload, err := rlp.EncodeToBytes(unsigned)
	require.NoError(t, err)

	sig := make([]byte, 65)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:64])
	sig[64] = byte(recID)
	pub, err := crypto.SigToPub(crypto.Keccak256(payload), sig)
	require.NoError(t, err)
	assert.Equal(t, creds.Address(), types.Address(crypto.PubkeyToAddress(*pub)))
}

func TestPrivateSigner_MissingTarget(t *testing.T) {
	_, err := PrivateSigner{}.Sign(&PrivateRawTransaction{PrivateFrom: enclaveKeyA}, 1, testCredentials(t))
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestPrivateTransactionManager(t *testing.T) {
	ctx := context.Background()
	client := new(mockPrivacyClient)
	creds := testCredentials(t)
	target := Participants{enclaveKeyB}

	m, err := NewPrivateTransactionManager(client, creds, enclaveKeyA, target,
		WithChainID(2018),
		WithPollingInterval(time.Millisecond),
		WithAttempts(3),
	)
	require.NoError(t, err)
	groupID, err := LegacyPrivacyGroupID(enclaveKeyA, target)
	require.NoError(t, err)
	assert.Equal(t, groupID, m.PrivacyGroupID())

	params := TxParams{
		GasPrice: big.NewInt(0),
		GasLimit: DefaultPrivateCallGasLimit,
		To:       &testRecipient,
		Data:     []byte{0x3f, 0xa4, 0xf2, 0x45},
	}
	signed, err := PrivateSigner{}.Sign(&PrivateRawTransaction{
		RawTransaction: *params.rawTransaction(5),
		PrivateFrom:    enclaveKeyA,
		Target:         target,
		Restriction:    RestrictionRestricted,
	}, 2018, creds)
	require.NoError(t, err)
	hash := TxHash(signed)

	client.On("PrivGetTransactionCount", ctx, creds.Address(), groupID).Return(uint64(5), nil)
	client.On("EeaSendRawTransaction", ctx, signed).Return(hash, nil)
	client.On("PrivGetTransactionReceipt", ctx, hash).Return(nil, nil).Once()
	client.On("PrivGetTransactionReceipt", ctx, hash).Return(&PrivateTransactionReceipt{
		Receipt: minedReceipt(hash, 1, 0),
		Output:  []byte{0x00, 0x2a},
	}, nil)

	out, err := m.SendCall(ctx, testRecipient, params.Data, types.LatestBlockNumber)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x2a}, out)
	client.AssertNumberOfCalls(t, "EeaSendRawTransaction", 1)
	client.AssertNumberOfCalls(t, "PrivGetTransactionReceipt", 3)
}

func TestPrivateTransactionManager_SubmissionError(t *testing.T) {
	ctx := context.Background()
	client := new(mockPrivacyClient)
	m, err := NewPrivateTransactionManager(client, testCredentials(t), enclaveKeyA, PrivacyGroupID(enclaveKeyC))
	require.NoError(t, err)

	client.On("PrivGetTransactionCount", ctx, mock.Anything, enclaveKeyC).Return(uint64(0), nil)
	client.On("EeaSendRawTransaction", ctx, mock.Anything).Return(types.Hash{}, &jsonrpc.Error{Code: -50100, Message: "Private transaction failed"})

	_, err = m.SendTransaction(ctx, TxParams{To: &testRecipient})
	var subErr *SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, "eea_sendRawTransaction", subErr.Method)
}

func TestPrivateTransactionReceipt_UnmarshalJSON(t *testing.T) {
	var r PrivateTransactionReceipt
	err := r.UnmarshalJSON([]byte(`{
		"transactionHash":"0x2f1e2a1d1c1b1a19181716151413121110f0e0d0c0b0a0908070605040302010",
		"blockHash":"0x00000000000000000000000000000000000000000000000000000000000000bb",
		"blockNumber":"0x64",
		"transactionIndex":"0x0",
		"from":"0x2c7536e3605d9c16a7a3d7b1898e529396a65c23",
		"to":"0xd46e8dd67c5d32be8058bb8eb970870f07244567",
		"cumulativeGasUsed":"0x0",
		"effectiveGasPrice":"0x0",
		"gasUsed":"0x0",
		"logsBloom":"0x00",
		"status":"0x1",
		"output":"0x002a",
		"privateFrom":"A1aVtMxLCUHmBVHXoZzzBgPbW/wj5axDpW9X8l91SGo=",
		"privacyGroupId":"group",
		"logs":[]
	}`))
	require.NoError(t, err)
	require.NotNil(t, r.Receipt)
	assert.Equal(t, testTxHash, r.Receipt.TransactionHash)
	assert.True(t, IsStatusOK(r.Receipt))
	assert.Equal(t, []byte{0x00, 0x2a}, r.Output)
	assert.Equal(t, enclaveKeyA, r.PrivateFrom)
	assert.Equal(t, "group", r.PrivacyGroupID)
}
