// Package interleave implements the per-collection busy set that
// serializes mutating requests: at most one mutation per collection
// may be in flight at a time. A mutex gives this single-owner
// guarantee without a dedicated dispatch goroutine.
package interleave

import (
	"sync"

	"github.com/jolla/secretsbrokerd/internal/brokererr"
)

// Guard tracks which collection names currently have a mutating request
// in flight.
type Guard struct {
	mu sync.Mutex
	busy map[string]struct{}
}

// New creates an empty guard.
func New() *Guard {
	return &Guard{busy: make(map[string]struct{})}
}

// Acquire marks name busy, failing with InterleavedRequestError if it is
// already busy. Call Release in every terminal path —
// success, error, or cleanup.
func (g *Guard) Acquire(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.busy[name]; busy {
		return brokererr.New(brokererr.InterleavedRequestError, "a mutating request is already in flight for collection %q", name)
	}
	g.busy[name] = struct{}{}
	return nil
}

// Release clears the busy flag for name. Safe to call even if name was
// never acquired (idempotent), so cleanup paths can call it
// unconditionally.
func (g *Guard) Release(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, name)
}

// IsBusy reports whether name currently has a mutating request in
// flight. Exposed for tests verifying at-most-one-in-flight.
func (g *Guard) IsBusy(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.busy[name]
	return busy
}
