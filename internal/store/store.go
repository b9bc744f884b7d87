// Package store persists and queries duty-cycle log entries.
//
// A Gateway fronts one Backend (MongoDB, SQLite or memory) and checks the
// backend's availability before every operation. When the backend is
// unavailable writes are dropped and reads return nothing; both report
// ErrUnavailable so callers can tell a degraded store from a failing one.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pumprelay/relay-server/internal/model"
)

// MaxResults caps every Find.
const MaxResults = 100

var (
	// ErrUnavailable reports that the backend is missing or disconnected.
	ErrUnavailable = errors.New("log store unavailable")
	// ErrOperationFailed wraps errors returned by an available backend.
	ErrOperationFailed = errors.New("log store operation failed")
)

// Backend is a concrete log collection.
type Backend interface {
	// Available reports whether operations can currently be issued.
	Available() bool
	// Create stores entry as-is; Timestamp must already be set.
	Create(ctx context.Context, entry model.LogEntry) error
	// Find returns at most limit entries inside r, newest first.
	Find(ctx context.Context, r model.DateRange, limit int) ([]model.LogEntry, error)
	// DeleteMany removes every entry inside r and returns how many were removed.
	DeleteMany(ctx context.Context, r model.DateRange) (int64, error)
	Close(ctx context.Context) error
}

// Observer is notified of the outcome of each gateway operation.
type Observer func(op, result string)

// Gateway is the relay's view of the log collection.
type Gateway struct {
	backend  Backend
	logger   *slog.Logger
	observer Observer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithObserver installs an operation observer.
func WithObserver(o Observer) Option {
	return func(g *Gateway) { g.observer = o }
}

// NewGateway wraps backend. A nil backend yields a gateway that is
// permanently unavailable.
func NewGateway(backend Backend, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{backend: backend, logger: logger, observer: func(string, string) {}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Available reports whether the backend can currently serve requests.
func (g *Gateway) Available() bool {
	return g.backend != nil && g.backend.Available()
}

// Create persists entry. The entry is dropped when the store is unavailable.
func (g *Gateway) Create(ctx context.Context, entry model.LogEntry) error {
	if !g.Available() {
		g.observer("create", "unavailable")
		g.logger.Warn("log store unavailable, dropping entry", "mac", entry.MAC)
		return ErrUnavailable
	}
	if err := g.backend.Create(ctx, entry); err != nil {
		g.observer("create", "error")
		return fmt.Errorf("%w: create: %w", ErrOperationFailed, err)
	}
	g.observer("create", "ok")
	return nil
}

// Find returns up to MaxResults entries inside r, newest first. When the
// store is unavailable it returns an empty result and ErrUnavailable.
func (g *Gateway) Find(ctx context.Context, r model.DateRange) ([]model.LogEntry, error) {
	if !g.Available() {
		g.observer("find", "unavailable")
		return []model.LogEntry{}, ErrUnavailable
	}
	entries, err := g.backend.Find(ctx, r, MaxResults)
	if err != nil {
		g.observer("find", "error")
		return nil, fmt.Errorf("%w: find: %w", ErrOperationFailed, err)
	}
	if len(entries) > MaxResults {
		entries = entries[:MaxResults]
	}
	if entries == nil {
		entries = []model.LogEntry{}
	}
	g.observer("find", "ok")
	return entries, nil
}

// DeleteMany removes every entry inside r; an unbounded range clears the
// whole collection.
func (g *Gateway) DeleteMany(ctx context.Context, r model.DateRange) (int64, error) {
	if !g.Available() {
		g.observer("delete", "unavailable")
		return 0, ErrUnavailable
	}
	n, err := g.backend.DeleteMany(ctx, r)
	if err != nil {
		g.observer("delete", "error")
		return 0, fmt.Errorf("%w: delete: %w", ErrOperationFailed, err)
	}
	g.observer("delete", "ok")
	return n, nil
}

// Close releases the backend.
func (g *Gateway) Close(ctx context.Context) error {
	if g.backend == nil {
		return nil
	}
	return g.backend.Close(ctx)
}
