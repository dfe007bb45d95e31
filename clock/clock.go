// Package clock implements the single globally shared synchronisation
// variable every CaSTM flavor samples at transaction begin and advances
// at commit: a wait-free monotonic counter.
package clock

import "go.uber.org/atomic"

// Clock is a wait-free 64-bit version counter. Tick always returns a
// value strictly greater than any value previously observed by Now,
// across all goroutines — the only ordering guarantee the rest of the
// engine relies on.
type Clock struct {
	v atomic.Uint64
}

// New returns a Clock starting at zero.
func New() *Clock {
	return &Clock{}
}

// Now returns the current counter value without advancing it. Used by
// read-only transactions and by castm's Engine.begin to sample a read
// version.
func (c *Clock) Now() uint64 {
	return c.v.Load()
}

// Tick advances the counter and returns the new value. Called exactly
// once per committing write transaction, inside the commit critical
// section.
func (c *Clock) Tick() uint64 {
	return c.v.Add(1)
}
