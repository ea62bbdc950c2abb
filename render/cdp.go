// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// maxMessageSize bounds a single DevTools message. printToPDF returns the
// whole document base64 encoded in one response.
const maxMessageSize = 256 << 20

var errConnClosed = errors.New("render: devtools connection closed")

// cdpMessage is any frame on the DevTools socket: a response carries ID, an
// event carries Method.
type cdpMessage struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *cdpError       `json:"error,omitempty"`
}

type cdpRequest struct {
	ID        int64  `json:"id"`
	SessionID string `json:"sessionId,omitempty"`
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *cdpError) Error() string {
	return fmt.Sprintf("devtools error %d: %s", e.Code, e.Message)
}

type eventKey struct {
	session string
	method  string
}

// cdpConn multiplexes DevTools calls over one websocket. A single reader
// goroutine routes responses by id and events by session and method.
type cdpConn struct {
	ws     *websocket.Conn
	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan cdpMessage
	waiters map[eventKey][]chan cdpMessage

	done      chan struct{}
	closeOnce sync.Once
	err       error // set before done is closed
}

func dialCDP(ctx context.Context, url string) (*cdpConn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial devtools %s: %w", url, err)
	}
	return newCDPConn(ws), nil
}

func newCDPConn(ws *websocket.Conn) *cdpConn {
	ws.SetReadLimit(maxMessageSize)
	c := &cdpConn{
		ws:      ws,
		pending: make(map[int64]chan cdpMessage),
		waiters: make(map[eventKey][]chan cdpMessage),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *cdpConn) readLoop() {
	for {
		var msg cdpMessage
		if err := wsjson.Read(context.Background(), c.ws, &msg); err != nil {
			c.shutdown(err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *cdpConn) dispatch(msg cdpMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.ID != 0 {
		if ch, ok := c.pending[msg.ID]; ok {
			delete(c.pending, msg.ID)
			ch <- msg
		}
		return
	}
	if msg.Method == "" {
		return
	}
	key := eventKey{session: msg.SessionID, method: msg.Method}
	for _, ch := range c.waiters[key] {
		ch <- msg
	}
	delete(c.waiters, key)
}

// call sends method and decodes the result into out, which may be nil.
func (c *cdpConn) call(ctx context.Context, session, method string, params, out any) error {
	id := c.nextID.Add(1)
	ch := make(chan cdpMessage, 1)

	c.mu.Lock()
	if !c.alive() {
		c.mu.Unlock()
		return c.err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := cdpRequest{ID: id, SessionID: session, Method: method, Params: params}
	if err := wsjson.Write(ctx, c.ws, req); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return fmt.Errorf("%s: %w", method, msg.Error)
		}
		if out == nil || len(msg.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(msg.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("%s: %w", method, c.err)
	}
}

// waitEvent registers interest in the next method event of session. It must
// be called before the command that triggers the event. The returned cancel
// function drops the registration.
func (c *cdpConn) waitEvent(session, method string) (<-chan cdpMessage, func()) {
	key := eventKey{session: session, method: method}
	ch := make(chan cdpMessage, 1)

	c.mu.Lock()
	c.waiters[key] = append(c.waiters[key], ch)
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.waiters[key]
		for i, w := range list {
			if w == ch {
				c.waiters[key] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(c.waiters[key]) == 0 {
			delete(c.waiters, key)
		}
	}
}

// alive reports whether the read loop is still running.
func (c *cdpConn) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *cdpConn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = errConnClosed
		if err != nil {
			c.err = fmt.Errorf("%w: %v", errConnClosed, err)
		}
		close(c.done)
		c.mu.Unlock()
	})
}

func (c *cdpConn) ping(ctx context.Context) error {
	return c.ws.Ping(ctx)
}

func (c *cdpConn) close() error {
	c.shutdown(nil)
	return c.ws.CloseNow()
}
