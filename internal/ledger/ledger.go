// Package ledger tracks the fog device's own uncommitted local CPU/RAM/GPU
// capacity. It is single-owner state belonging to the engine: reserve and
// release are its only mutators, and Ledger holds its own mutex, distinct
// from the engine's admission-queue mutex, per the concurrency discipline
// in §5.
package ledger

import (
	"fmt"
	"sync"

	"github.com/foglayer/dispatchd/internal/task"
)

// Ledger is the triple of uncommitted local CPU/RAM/GPU. Each value
// always lies in [0, initial].
type Ledger struct {
	mu   sync.Mutex
	cur  task.Resources
	init task.Resources
}

// New creates a Ledger seeded with the fog device's advertised capacity.
func New(initial task.Resources) *Ledger {
	return &Ledger{cur: initial, init: initial}
}

// Available returns a snapshot of the current uncommitted capacity.
func (l *Ledger) Available() task.Resources {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur
}

// Initial returns the ledger's starting capacity.
func (l *Ledger) Initial() task.Resources {
	return l.init
}

// Fits reports whether r can currently be reserved without going negative.
func (l *Ledger) Fits(r task.Resources) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return r.Fits(l.cur)
}

// Reserve subtracts r's estimates from the three counters. The caller
// (the placement engine, via the dispatcher) must have already verified
// the fit; an arithmetic underflow here is a programming error and is
// reported as such rather than silently clamped, per §4.2/§7.
func (l *Ledger) Reserve(r task.Resources) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !r.Fits(l.cur) {
		return fmt.Errorf("reserve would drive a ledger counter negative: have %+v, want %+v", l.cur, r)
	}
	l.cur = l.cur.Sub(r)
	return nil
}

// Release adds r's estimates back. Each task is released exactly once,
// in the local execution path's cleanup step; idempotence is not
// required or provided.
func (l *Ledger) Release(r task.Resources) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cur = l.cur.Add(r)
}
