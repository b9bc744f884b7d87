// Package registrytest provides an in-memory registry.Conn for tests.
package registrytest

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrSendFailed is returned by Send when the connection is set to fail.
var ErrSendFailed = errors.New("send failed")

// Conn records every frame sent to it.
type Conn struct {
	id     string
	closed atomic.Bool
	fail   atomic.Bool

	mu   sync.Mutex
	sent [][]byte
}

// NewConn returns an open connection with the given id.
func NewConn(id string) *Conn {
	return &Conn{id: id}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Open() bool { return !c.closed.Load() }

// Send records msg unless the connection is closed or set to fail.
func (c *Conn) Send(msg []byte) error {
	if c.closed.Load() {
		return errors.New("connection closed")
	}
	if c.fail.Load() {
		return ErrSendFailed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), msg...))
	return nil
}

// Close marks the connection closed without unregistering it.
func (c *Conn) Close() { c.closed.Store(true) }

// FailSends makes subsequent sends return ErrSendFailed.
func (c *Conn) FailSends() { c.fail.Store(true) }

// Sent returns a copy of the recorded frames as strings.
func (c *Conn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, m := range c.sent {
		out[i] = string(m)
	}
	return out
}

// Reset drops the recorded frames.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}
