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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/pkg/errors"
)

type HTTPOptions struct {
	// URL of the node endpoint.
	URL string

	// HTTPClient used to send requests. http.DefaultClient is used when nil.
	HTTPClient *http.Client

	// Header is added to every request.
	Header http.Header
}

// HTTP is a Transport sending every call as a separate POST request.
// It is safe for concurrent use.
type HTTP struct {
	opts HTTPOptions
	id   uint64
}

func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	if opts.URL == "" {
		return nil, errors.New("jsonrpc: URL cannot be empty")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &HTTP{opts: opts}, nil
}

func (h *HTTP) nextID() uint64 {
	return atomic.AddUint64(&h.id, 1)
}

// Call implements the Transport interface.
func (h *HTTP) Call(ctx context.Context, result any, method string, args ...any) error {
	var res Response
	if err := h.post(ctx, NewRequest(h.nextID(), method, args...), &res); err != nil {
		return err
	}
	return res.decode(result)
}

// CallBatch implements the BatchTransport interface.
func (h *HTTP) CallBatch(ctx context.Context, batch []BatchElem) error {
	if len(batch) == 0 {
		return nil
	}
	reqs := make([]Request, len(batch))
	byID := make(map[uint64]*BatchElem, len(batch))
	for i := range batch {
		reqs[i] = NewRequest(h.nextID(), batch[i].Method, batch[i].Args...)
		byID[reqs[i].ID] = &batch[i]
	}
	var res []Response
	if err := h.post(ctx, reqs, &res); err != nil {
		return err
	}
	resolveBatch(byID, res)
	return nil
}

func (h *HTTP) post(ctx context.Context, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "jsonrpc: failed to encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.opts.URL, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "jsonrpc: failed to create request")
	}
	for k, v := range h.opts.Header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := h.opts.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "jsonrpc: request failed")
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, "jsonrpc: failed to read response")
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		// Some nodes return the error object with a non 2xx status.
		var single Response
		if json.Unmarshal(raw, &single) == nil && single.Error != nil {
			return single.Error
		}
		return errors.Errorf("jsonrpc: unexpected HTTP status %d: %s", res.StatusCode, bytes.TrimSpace(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "jsonrpc: failed to decode response")
	}
	return nil
}

func resolveBatch(byID map[uint64]*BatchElem, res []Response) {
	for i := range res {
		id, ok := res[i].id()
		if !ok {
			continue
		}
		elem, ok := byID[id]
		if !ok {
			continue
		}
		elem.Error = res[i].decode(elem.Result)
		delete(byID, id)
	}
	for _, elem := range byID {
		elem.Error = ErrMissingResponse
	}
}
