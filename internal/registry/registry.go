// Package registry tracks live relay connections and which one of them, if
// any, currently speaks for the device.
package registry

import (
	"log/slog"
	"sync"
)

// Conn is a live bidirectional session as seen by the registry.
type Conn interface {
	ID() string
	Send(msg []byte) error
	Open() bool
}

// Predicate selects broadcast recipients.
type Predicate func(Conn) bool

// Registry holds the set of live connections and the device slot. At most one
// connection occupies the slot at any time.
type Registry struct {
	logger *slog.Logger

	mu     sync.RWMutex
	conns  map[Conn]struct{}
	device Conn
}

// New constructs an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{logger: logger, conns: make(map[Conn]struct{})}
}

// Register adds a connection to the live set.
func (r *Registry) Register(c Conn) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
}

// Unregister removes a connection. If it held the device slot the slot is
// cleared and wasDevice is true.
func (r *Registry) Unregister(c Conn) (wasDevice bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, c)
	if r.device == c {
		r.device = nil
		return true
	}
	return false
}

// MarkAsDevice puts c in the device slot, replacing any previous occupant,
// which is returned (nil if the slot was empty or already held by c).
// A connection that is not registered is registered first.
func (r *Registry) MarkAsDevice(c Conn) (previous Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c] = struct{}{}
	if r.device != c {
		previous = r.device
	}
	r.device = c
	return previous
}

// Device returns the current slot occupant, or nil.
func (r *Registry) Device() Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.device
}

// IsDevice reports whether c occupies the device slot.
func (r *Registry) IsDevice(c Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.device != nil && r.device == c
}

// ClearDevice empties the slot only if c still occupies it, so a stale
// eviction cannot remove a device that re-identified in the meantime.
func (r *Registry) ClearDevice(c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.device == nil || r.device != c {
		return false
	}
	r.device = nil
	return true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast sends msg to every open registered connection accepted by pred
// (all of them if pred is nil) and returns how many sends succeeded. A failed
// send is logged and does not affect the remaining recipients. pred runs under
// the registry's read lock and must not call back into the registry.
func (r *Registry) Broadcast(msg []byte, pred Predicate) int {
	r.mu.RLock()
	recipients := make([]Conn, 0, len(r.conns))
	for c := range r.conns {
		if pred != nil && !pred(c) {
			continue
		}
		recipients = append(recipients, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range recipients {
		if !c.Open() {
			continue
		}
		if err := c.Send(msg); err != nil {
			r.logger.Debug("broadcast send failed", "conn", c.ID(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// NotDevice is a Predicate matching every connection except the device.
func (r *Registry) NotDevice() Predicate {
	device := r.Device()
	return func(c Conn) bool { return c != device }
}
