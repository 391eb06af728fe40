package main

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/defiweb/go-eth/rpc/transport"
	"github.com/defiweb/go-eth/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicleprotocol/txmanager/core"
	"github.com/chronicleprotocol/txmanager/pkg/jsonrpc"
)

func TestParseBlock(t *testing.T) {
	b, err := parseBlock("latest")
	require.NoError(t, err)
	assert.Equal(t, types.LatestBlockNumber, b)

	b, err = parseBlock("pending")
	require.NoError(t, err)
	assert.Equal(t, types.PendingBlockNumber, b)

	b, err = parseBlock("0x10")
	require.NoError(t, err)
	assert.Equal(t, types.BlockNumberFromBigInt(big.NewInt(16)), b)

	_, err = parseBlock("earliest-ish")
	assert.Error(t, err)
}

func TestParseWei(t *testing.T) {
	v, err := parseWei("value", "")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = parseWei("value", "1000")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), v)

	_, err = parseWei("value", "-1")
	assert.ErrorContains(t, err, "invalid value")
}

func TestOptions_GetCredentials(t *testing.T) {
	opts := options{SecretKey: "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"}
	creds, err := opts.getCredentials()
	require.NoError(t, err)
	assert.NotEqual(t, types.ZeroAddress, creds.Address())

	_, err = (&options{}).getCredentials()
	assert.ErrorContains(t, err, "--keystore")

	dir := t.TempDir()
	_, err = (&options{Key: dir}).getCredentials()
	assert.ErrorContains(t, err, "directory")

	path := filepath.Join(dir, "key.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err = (&options{Key: path}).getCredentials()
	assert.ErrorContains(t, err, "--password")
}

func TestOptions_Dial(t *testing.T) {
	ctx := context.Background()

	_, _, err := (&options{}).dial(ctx)
	assert.ErrorContains(t, err, "--rpc-url")

	_, _, err = (&options{RpcURL: "http://localhost:8545", Transport: "ipc"}).dial(ctx)
	assert.ErrorContains(t, err, "unknown transport")

	tr, closeTransport, err := (&options{RpcURL: "http://localhost:8545", Transport: "http"}).dial(ctx)
	require.NoError(t, err)
	defer closeTransport()
	assert.IsType(t, &transport.HTTP{}, tr)

	tr, closeBatch, err := (&options{RpcURL: "http://localhost:8545", Transport: "http-batch"}).dial(ctx)
	require.NoError(t, err)
	defer closeBatch()
	assert.IsType(t, &jsonrpc.HTTP{}, tr)

	client, closeClient, err := (&options{RpcURL: "http://localhost:8545", Transport: "http"}).gateway(ctx)
	require.NoError(t, err)
	defer closeClient()
	assert.NotNil(t, client)
}

func TestUniqueHashes(t *testing.T) {
	a := types.MustHashFromHex("0x0a", types.PadLeft)
	b := types.MustHashFromHex("0x0b", types.PadLeft)
	assert.Equal(t, []types.Hash{a, b}, uniqueHashes([]types.Hash{a, b, a, a, b}))
	assert.Empty(t, uniqueHashes(nil))
}

// receiptNode returns a mined receipt for every hash, answering batches too.
func receiptNode(t *testing.T) *httptest.Server {
	answer := func(req map[string]any) map[string]any {
		params, _ := req["params"].([]any)
		hash, _ := params[0].(string)
		return map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result": map[string]any{
				"transactionHash":   hash,
				"transactionIndex":  "0x0",
				"blockHash":         "0x00000000000000000000000000000000000000000000000000000000000000bb",
				"blockNumber":       "0x64",
				"from":              "0x2c7536e3605d9c16a7a3d7b1898e529396a65c23",
				"to":                "0xd46e8dd67c5d32be8058bb8eb970870f07244567",
				"cumulativeGasUsed": "0x5208",
				"effectiveGasPrice": "0x3b9aca00",
				"gasUsed":           "0x5208",
				"logs":              []any{},
				"logsBloom":         "0x00",
				"status":            "0x1",
			},
		}
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var batch []map[string]any
		if json.Unmarshal(body, &batch) == nil {
			out := make([]map[string]any, len(batch))
			for i, req := range batch {
				out[i] = answer(req)
			}
			_ = json.NewEncoder(w).Encode(out)
			return
		}
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		_ = json.NewEncoder(w).Encode(answer(req))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestWaitQueued_DuplicateHashes(t *testing.T) {
	ts := receiptNode(t)
	h, err := jsonrpc.NewHTTP(jsonrpc.HTTPOptions{URL: ts.URL})
	require.NoError(t, err)
	client, err := core.NewRpcGateway(h)
	require.NoError(t, err)

	a := types.MustHashFromHex("0x0a", types.PadLeft)
	b := types.MustHashFromHex("0x0b", types.PadLeft)
	opts := &options{PollingInterval: 5 * time.Millisecond, Attempts: 3}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, waitQueued(ctx, client, []types.Hash{a, b, a}, opts))
}

func TestOptions_From(t *testing.T) {
	from, err := (&options{}).from()
	require.NoError(t, err)
	assert.Equal(t, types.ZeroAddress, from)

	from, err = (&options{From: "0xd46e8dd67c5d32be8058bb8eb970870f07244567"}).from()
	require.NoError(t, err)
	assert.Equal(t, types.MustAddressFromHex("0xd46e8dd67c5d32be8058bb8eb970870f07244567"), from)

	_, err = (&options{From: "0x12"}).from()
	assert.Error(t, err)
}
