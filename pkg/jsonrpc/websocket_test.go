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

package jsonrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoNode answers every request with its method name as the result, or with
// an error for the "fail" method. A "drop" request closes the connection
// without an answer.
func echoNode(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	answer := func(req Request) map[string]any {
		res := map[string]any{"jsonrpc": Version, "id": req.ID}
		if req.Method == "fail" {
			res["error"] = map[string]any{"code": -32000, "message": "filter not found"}
		} else {
			res["result"] = req.Method
		}
		return res
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if payload[0] == '[' {
				var reqs []Request
				if json.Unmarshal(payload, &reqs) != nil {
					return
				}
				res := make([]map[string]any, 0, len(reqs))
				// Reverse order to exercise dispatch by id.
				for i := len(reqs) - 1; i >= 0; i-- {
					res = append(res, answer(reqs[i]))
				}
				if conn.WriteJSON(res) != nil {
					return
				}
				continue
			}
			var req Request
			if json.Unmarshal(payload, &req) != nil || req.Method == "drop" {
				return
			}
			if conn.WriteJSON(answer(req)) != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func dialTestWebSocket(t *testing.T, ts *httptest.Server) *WebSocket {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, err := DialWebSocket(ctx, WebSocketOptions{
		URL:               "ws" + strings.TrimPrefix(ts.URL, "http"),
		MinReconnectDelay: 10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return ws
}

func TestWebSocket_Call(t *testing.T) {
	ws := dialTestWebSocket(t, echoNode(t))
	defer ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var res string
	require.NoError(t, ws.Call(ctx, &res, "eth_chainId"))
	assert.Equal(t, "eth_chainId", res)

	err := ws.Call(ctx, &res, "fail")
	assert.True(t, IsFilterNotFound(err))
}

func TestWebSocket_CallBatch(t *testing.T) {
	ws := dialTestWebSocket(t, echoNode(t))
	defer ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var a, b string
	batch := []BatchElem{
		{Method: "eth_gasPrice", Result: &a},
		{Method: "fail"},
		{Method: "eth_blockNumber", Result: &b},
	}
	require.NoError(t, ws.CallBatch(ctx, batch))
	assert.NoError(t, batch[0].Error)
	assert.Equal(t, "eth_gasPrice", a)
	assert.True(t, IsFilterNotFound(batch[1].Error))
	assert.NoError(t, batch[2].Error)
	assert.Equal(t, "eth_blockNumber", b)
}

func TestWebSocket_CallAfterClose(t *testing.T) {
	ws := dialTestWebSocket(t, echoNode(t))
	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close())

	err := ws.Call(context.Background(), nil, "eth_chainId")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWebSocket_Reconnect(t *testing.T) {
	ws := dialTestWebSocket(t, echoNode(t))
	defer ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var res string
	require.NoError(t, ws.Call(ctx, &res, "eth_chainId"))

	err := ws.Call(ctx, &res, "drop")
	assert.ErrorIs(t, err, ErrDisconnected)

	// Calls fail until the transport dials the node again.
	assert.Eventually(t, func() bool {
		res = ""
		return ws.Call(ctx, &res, "eth_blockNumber") == nil
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "eth_blockNumber", res)

	// The new connection keeps serving calls.
	require.NoError(t, ws.Call(ctx, &res, "eth_gasPrice"))
	assert.Equal(t, "eth_gasPrice", res)
}
