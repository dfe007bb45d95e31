// Package locktable implements the fixed-size striped spinlock array
// consumed by CaSTM's MV-OCC and SV-OCC flavors. It is the only
// lock-based synchronisation surface in the engine; Wound-Wait resolves
// conflicts per-variable instead and never touches this table.
package locktable

import (
	"runtime"
	"unsafe"

	"go.uber.org/atomic"
)

// padded pads a single spin-flag to its own cache line so that lock
// contention on adjacent stripes never produces false sharing between
// unrelated variables.
type padded struct {
	flag atomic.Bool
	_    [7]uint64 // pad to 64 bytes alongside the bool's word
}

// Table is a fixed-size, power-of-two array of spin-flags. Index by
// address hash; never recursive — callers must deduplicate indices
// before acquiring more than one lock (see castm's sorted lock-set).
type Table struct {
	stripes []padded
	mask    uint64
}

// DefaultSize is the stripe-table size used when the engine is not
// configured otherwise: 2^20 stripes.
const DefaultSize = 1 << 20

// New returns a Table with size stripes, rounded up to the next power of
// two if size is not already one.
func New(size int) *Table {
	if size <= 0 {
		size = DefaultSize
	}
	size = nextPow2(size)
	return &Table{
		stripes: make([]padded, size),
		mask:    uint64(size - 1),
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// IndexOf hashes addr into a stripe index via fnv-1a over the pointer's
// bit pattern.
func (t *Table) IndexOf(addr unsafe.Pointer) uint32 {
	h := uint64(14695981039346656037)
	v := uint64(uintptr(addr))
	for i := 0; i < 8; i++ {
		h ^= v & 0xff
		h *= 1099511628211
		v >>= 8
	}
	return uint32(h & t.mask)
}

// LockIndex acquires the stripe at i with a test-and-test-and-set spin,
// yielding to the scheduler every 64 failed probes instead of a hardware pause
// hint (Go has no portable pause intrinsic; Gosched is the idiomatic
// substitute for spin-wait backoff in concurrent Go code).
func (t *Table) LockIndex(i uint32) {
	s := &t.stripes[i]
	spins := 0
	for {
		if !s.flag.Load() && s.flag.CompareAndSwap(false, true) {
			return
		}
		spins++
		if spins%64 == 0 {
			runtime.Gosched()
		}
	}
}

// UnlockIndex releases the stripe at i. Caller must hold it.
func (t *Table) UnlockIndex(i uint32) {
	t.stripes[i].flag.Store(false)
}

// IsLockedIndex reports whether the stripe at i is currently held. Used
// by commitLocked's pre-check and post-validation re-check to catch a
// stripe collision with a concurrent committer that the read-set
// validator's plain version comparison cannot see on its own.
func (t *Table) IsLockedIndex(i uint32) bool {
	return t.stripes[i].flag.Load()
}

// Lock hashes addr and acquires its stripe.
func (t *Table) Lock(addr unsafe.Pointer) { t.LockIndex(t.IndexOf(addr)) }

// Unlock hashes addr and releases its stripe.
func (t *Table) Unlock(addr unsafe.Pointer) { t.UnlockIndex(t.IndexOf(addr)) }

// IsLocked hashes addr and reports whether its stripe is held.
func (t *Table) IsLocked(addr unsafe.Pointer) bool { return t.IsLockedIndex(t.IndexOf(addr)) }
