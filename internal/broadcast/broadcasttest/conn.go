// Package broadcasttest provides an in-memory transport for registry tests.
package broadcasttest

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("broadcasttest: connection closed")

// Conn records frames written to it. Test use only.
type Conn struct {
	mu          sync.Mutex
	frames      [][]byte
	closeFrames [][]byte
	pings       int
	writeErr    error
	blocked     chan struct{}
	closed      chan struct{}
	closeOnce   sync.Once
}

func NewConn() *Conn {
	return &Conn{closed: make(chan struct{})}
}

func (c *Conn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	blocked := c.blocked
	c.mu.Unlock()

	if blocked != nil {
		select {
		case <-blocked:
		case <-c.closed:
			return ErrClosed
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeErr != nil {
		return c.writeErr
	}
	if c.isClosed() {
		return ErrClosed
	}

	switch messageType {
	case websocket.TextMessage:
		c.frames = append(c.frames, append([]byte(nil), data...))
	case websocket.PingMessage:
		c.pings++
	case websocket.CloseMessage:
		c.closeFrames = append(c.closeFrames, append([]byte(nil), data...))
	}
	return nil
}

func (c *Conn) SetWriteDeadline(time.Time) error          { return nil }
func (c *Conn) SetReadDeadline(time.Time) error           { return nil }
func (c *Conn) SetPongHandler(func(appData string) error) {}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// FailWrites makes every later write return err.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// BlockWrites stalls writes until the returned func is called or the conn closes.
func (c *Conn) BlockWrites() (release func()) {
	ch := make(chan struct{})
	c.mu.Lock()
	c.blocked = ch
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.blocked = nil
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isClosed()
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// Messages decodes every text frame written so far.
func (c *Conn) Messages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			m = map[string]any{"raw": string(f)}
		}
		out = append(out, m)
	}
	return out
}

// MessagesOfType filters Messages by their "type" field.
func (c *Conn) MessagesOfType(t string) []map[string]any {
	var out []map[string]any
	for _, m := range c.Messages() {
		if m["type"] == t {
			out = append(out, m)
		}
	}
	return out
}

// CloseReasons returns the reason text of every close frame written.
func (c *Conn) CloseReasons() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	reasons := make([]string, 0, len(c.closeFrames))
	for _, f := range c.closeFrames {
		if len(f) >= 2 {
			reasons = append(reasons, string(f[2:]))
		}
	}
	return reasons
}
