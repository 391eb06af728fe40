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
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultMinReconnectDelay = time.Second
	defaultMaxReconnectDelay = 30 * time.Second
)

var ErrDisconnected = errors.New("jsonrpc: disconnected from node")

type wsResult struct {
	res *Response
	err error
}

type WebSocketOptions struct {
	// URL of the node endpoint, ws:// or wss://.
	URL string

	// Header is sent with the handshake request.
	Header http.Header

	// Dialer used to connect. websocket.DefaultDialer is used when nil.
	Dialer *websocket.Dialer

	// Reconnect delays, grown exponentially between failed attempts.
	MinReconnectDelay time.Duration
	MaxReconnectDelay time.Duration
}

// WebSocket is a persistent Transport that reconnects automatically.
// Calls in flight when the connection drops fail with ErrDisconnected.
type WebSocket struct {
	opts WebSocketOptions
	id   uint64

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan wsResult
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// DialWebSocket connects to the node and starts the background read loop.
// The transport must be closed with Close.
func DialWebSocket(ctx context.Context, opts WebSocketOptions) (*WebSocket, error) {
	if opts.URL == "" {
		return nil, errors.New("jsonrpc: URL cannot be empty")
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MinReconnectDelay <= 0 {
		opts.MinReconnectDelay = defaultMinReconnectDelay
	}
	if opts.MaxReconnectDelay < opts.MinReconnectDelay {
		opts.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	w := &WebSocket{
		opts:    opts,
		pending: make(map[uint64]chan wsResult),
		done:    make(chan struct{}),
	}
	conn, err := w.dial(ctx)
	if err != nil {
		return nil, err
	}
	w.conn = conn
	w.ctx, w.cancel = context.WithCancel(context.Background())
	go w.run(conn)
	return w, nil
}

// Call implements the Transport interface.
func (w *WebSocket) Call(ctx context.Context, result any, method string, args ...any) error {
	req := NewRequest(atomic.AddUint64(&w.id, 1), method, args...)
	ch, err := w.register(req.ID)
	if err != nil {
		return err
	}
	defer w.unregister(req.ID)

	if err := w.write(req); err != nil {
		return err
	}
	res, err := w.await(ctx, ch)
	if err != nil {
		return err
	}
	return res.decode(result)
}

// CallBatch implements the BatchTransport interface.
func (w *WebSocket) CallBatch(ctx context.Context, batch []BatchElem) error {
	if len(batch) == 0 {
		return nil
	}
	reqs := make([]Request, len(batch))
	chans := make([]chan wsResult, len(batch))
	for i := range batch {
		reqs[i] = NewRequest(atomic.AddUint64(&w.id, 1), batch[i].Method, batch[i].Args...)
		ch, err := w.register(reqs[i].ID)
		if err != nil {
			return err
		}
		defer w.unregister(reqs[i].ID)
		chans[i] = ch
	}
	if err := w.write(reqs); err != nil {
		return err
	}
	for i := range batch {
		res, err := w.await(ctx, chans[i])
		if err != nil {
			if errors.Is(err, ErrDisconnected) {
				batch[i].Error = err
				continue
			}
			return err
		}
		batch[i].Error = res.decode(batch[i].Result)
	}
	return nil
}

// Close stops the read loop and closes the connection. Pending calls fail
// with ErrClosed.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn := w.conn
	w.mu.Unlock()

	w.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	<-w.done
	return err
}

func (w *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := w.opts.Dialer.DialContext(ctx, w.opts.URL, w.opts.Header)
	if err != nil {
		return nil, errors.Wrapf(err, "jsonrpc: failed to connect to %s", w.opts.URL)
	}
	return conn, nil
}

func (w *WebSocket) run(conn *websocket.Conn) {
	defer close(w.done)
	b := &backoff.Backoff{
		Min:    w.opts.MinReconnectDelay,
		Max:    w.opts.MaxReconnectDelay,
		Factor: 2,
		Jitter: true,
	}
	for {
		err := w.readLoop(conn)
		conn.Close()
		if w.isClosed() {
			w.failPending(ErrClosed)
			return
		}
		logger.WithField("url", w.opts.URL).Warnf("Websocket disconnected: %v", err)
		w.failPending(ErrDisconnected)

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(b.Duration()):
			}
			next, err := w.dial(w.ctx)
			if err == nil {
				conn = next
				break
			}
			logger.WithField("url", w.opts.URL).Errorf("Failed to reconnect: %v", err)
		}
		b.Reset()

		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			conn.Close()
			w.failPending(ErrClosed)
			return
		}
		w.conn = conn
		w.mu.Unlock()
		logger.WithField("url", w.opts.URL).Info("Websocket reconnected")
	}
}

func (w *WebSocket) readLoop(conn *websocket.Conn) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var res []Response
		payload = bytes.TrimSpace(payload)
		if len(payload) > 0 && payload[0] == '[' {
			err = json.Unmarshal(payload, &res)
		} else {
			res = make([]Response, 1)
			err = json.Unmarshal(payload, &res[0])
		}
		if err != nil {
			logger.WithField("url", w.opts.URL).Debugf("Failed to decode message: %v", err)
			continue
		}
		for i := range res {
			w.dispatch(&res[i])
		}
	}
}

func (w *WebSocket) dispatch(res *Response) {
	id, ok := res.id()
	if !ok {
		// Notifications are not used by this transport.
		return
	}
	w.mu.Lock()
	ch, ok := w.pending[id]
	delete(w.pending, id)
	w.mu.Unlock()
	if ok {
		ch <- wsResult{res: res}
	}
}

func (w *WebSocket) register(id uint64) (chan wsResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	ch := make(chan wsResult, 1)
	w.pending[id] = ch
	return ch, nil
}

func (w *WebSocket) unregister(id uint64) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

func (w *WebSocket) failPending(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, ch := range w.pending {
		ch <- wsResult{err: err}
		delete(w.pending, id)
	}
}

func (w *WebSocket) await(ctx context.Context, ch chan wsResult) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.res, r.err
	}
}

func (w *WebSocket) write(v any) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := conn.WriteJSON(v); err != nil {
		return errors.Wrap(err, "jsonrpc: failed to write request")
	}
	return nil
}

func (w *WebSocket) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
