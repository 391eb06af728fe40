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

// Package jsonrpc implements the JSON-RPC 2.0 client transports used to talk
// to Ethereum nodes.
package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Version is the only protocol version sent and accepted.
const Version = "2.0"

// CodeFilterNotFound is returned by nodes polling an unknown or expired filter.
// Nodes use the same code for other server errors, so the message is checked
// as well.
const CodeFilterNotFound = -32000

const filterNotFoundMessage = "filter not found"

var (
	ErrClosed          = errors.New("jsonrpc: transport closed")
	ErrMissingResponse = errors.New("jsonrpc: missing response for request")
	ErrInvalidVersion  = errors.New("jsonrpc: invalid protocol version")
)

// Transport performs a single JSON-RPC call.
type Transport interface {
	// Call invokes method with args and decodes the result into result.
	// result may be nil when the caller is not interested in the response.
	// A JSON-RPC error object is returned as *Error.
	Call(ctx context.Context, result any, method string, args ...any) error
}

// BatchElem is a single call within a batch.
type BatchElem struct {
	Method string
	Args   []any
	Result any
	// Error is set per element once the batch completes.
	Error error
}

// BatchTransport is a Transport able to send several calls in one request.
type BatchTransport interface {
	Transport
	// CallBatch sends all elements in a single request. The returned error
	// covers the request as a whole, per call errors are stored in
	// BatchElem.Error.
	CallBatch(ctx context.Context, batch []BatchElem) error
}

// Request is the JSON-RPC request envelope. Field order is part of the wire
// format.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

func NewRequest(id uint64, method string, args ...any) Request {
	if args == nil {
		args = []any{}
	}
	return Request{
		JSONRPC: Version,
		Method:  method,
		Params:  args,
		ID:      id,
	}
}

// Response is the JSON-RPC response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (r *Response) id() (uint64, bool) {
	var id uint64
	if len(r.ID) == 0 {
		return 0, false
	}
	if err := json.Unmarshal(r.ID, &id); err != nil {
		return 0, false
	}
	return id, true
}

func (r *Response) decode(result any) error {
	if r.Error != nil {
		return r.Error
	}
	if r.JSONRPC != Version {
		return errors.Wrapf(ErrInvalidVersion, "got %q", r.JSONRPC)
	}
	if result == nil || len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, result); err != nil {
		return errors.Wrap(err, "jsonrpc: failed to decode result")
	}
	return nil
}

// Error is a JSON-RPC error object returned by the node.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("jsonrpc error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// ErrorCode returns the code of the *Error found in err's chain.
func ErrorCode(err error) (int, bool) {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code, true
	}
	return 0, false
}

// IsFilterNotFound reports whether err is the node's "filter not found" error.
func IsFilterNotFound(err error) bool {
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeFilterNotFound {
		return false
	}
	return strings.Contains(strings.ToLower(rpcErr.Message), filterNotFoundMessage)
}
