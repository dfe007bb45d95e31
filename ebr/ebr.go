// Package ebr implements epoch-based reclamation: it lets a reader hold
// a pointer into a retired version node without use-after-free, with no
// per-pointer reference counting. It is the supporting memory-reclamation
// subsystem for every castm.Var flavor that must unlink and eventually
// free superseded nodes while concurrent readers may still be following
// them.
//
// Go has no portable per-OS-thread storage hook, so the per-thread
// epoch slot is modeled as an explicit Participant obtained from
// Manager.Join. Callers enter/leave around the span during which
// they may hold a pointer retired by someone else; Manager pools nothing
// itself — the engine pools Participants (see castm.Engine) the way it
// would pool any other per-goroutine scratch state.
package ebr

import (
	"sync"
	"unsafe"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const numEpochs = 3

// retired is one object handed to a bucket, pending reclamation.
type retired struct {
	ptr     unsafe.Pointer
	deleter func(unsafe.Pointer)
}

// Manager is the process-wide (or, for tests, engine-wide) epoch
// authority. It owns the global epoch and the set of joined
// Participants; Participants own their own retire buckets so that
// reclamation of one goroutine's retirees never contends with another's.
type Manager struct {
	globalEpoch atomic.Uint32

	mu           sync.Mutex
	participants []*Participant

	retireThreshold int
	log             *zap.Logger

	orphanMu sync.Mutex
	orphans  [numEpochs][]retired
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithRetireThreshold overrides the per-bucket count at which a retire
// call triggers TryAdvance. Default 4096, amortising the participant
// scan across many retires.
func WithRetireThreshold(n int) Option {
	return func(m *Manager) { m.retireThreshold = n }
}

// WithLogger attaches a zap logger; default is a no-op logger so the
// hot retire/advance path never pays for disabled logging.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// New returns a Manager with the global epoch at 0.
func New(opts ...Option) *Manager {
	m := &Manager{
		retireThreshold: 4096,
		log:             zap.NewNop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Participant is a single joined thread-of-control's epoch slot plus its
// three retire buckets (one per epoch mod 3). Reentrant: nested Enter
// calls are counted, only the outermost publishes the epoch snapshot.
type Participant struct {
	mgr *Manager

	active atomic.Bool
	epoch  atomic.Uint32
	depth  int // guarded by the owning goroutine; never touched concurrently

	buckets [numEpochs][]retired
}

// Join registers a new Participant with the Manager. The caller owns the
// returned Participant for as long as it intends to enter/leave epochs
// and retire pointers through it; it is not safe for concurrent use by
// more than one goroutine at a time, the same "owned by one goroutine"
// rule a Descriptor is held to.
func (m *Manager) Join() *Participant {
	p := &Participant{mgr: m}
	m.mu.Lock()
	m.participants = append(m.participants, p)
	m.mu.Unlock()
	return p
}

// Depart permanently removes p from the Manager's participant set,
// draining any buckets it still held into the shared orphan queue so a
// goroutine that Joins once and exits without ever retiring again does
// not keep its slot alive forever. Safe to call at most once; calling it
// twice is a caller bug (mirrors Descriptor's non-reentrant lifecycle).
func (m *Manager) Depart(p *Participant) {
	m.mu.Lock()
	for i, q := range m.participants {
		if q == p {
			m.participants = append(m.participants[:i], m.participants[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.orphanMu.Lock()
	for e := 0; e < numEpochs; e++ {
		m.orphans[e] = append(m.orphans[e], p.buckets[e]...)
		p.buckets[e] = nil
	}
	m.orphanMu.Unlock()
}

// Enter marks p active at the Manager's current global epoch. Reentrant:
// a nested Enter only increments depth; only the outermost Enter
// publishes the epoch with a release-store, matching the "if enter()
// happened-before a load of P, and P was retired strictly after that
// enter(), then P is not freed before the matching leave()" contract.
func (p *Participant) Enter() {
	p.depth++
	if p.depth > 1 {
		return
	}
	p.epoch.Store(p.mgr.globalEpoch.Load())
	p.active.Store(true)
}

// Leave decrements the nesting depth and, once it returns to zero,
// clears the active flag so TryAdvance may consider p quiescent.
func (p *Participant) Leave() {
	p.depth--
	if p.depth > 0 {
		return
	}
	p.active.Store(false)
}

// Retire hands ptr to p's bucket for the current global epoch. deleter
// is invoked with ptr once the bucket is known quiescent; its signature
// is stable across every instantiation of castm.Var[T] because the type
// information is closed over by the caller, not encoded in this API.
func (p *Participant) Retire(ptr unsafe.Pointer, deleter func(unsafe.Pointer)) {
	if ptr == nil {
		return
	}
	e := p.mgr.globalEpoch.Load() % numEpochs
	p.buckets[e] = append(p.buckets[e], retired{ptr: ptr, deleter: deleter})
	if len(p.buckets[e]) >= p.mgr.retireThreshold {
		p.mgr.TryAdvance()
	}
}

// TryAdvance scans every joined Participant; if every active one has
// observed the current global epoch, it CAS-advances the global epoch
// and frees the bucket two generations back, now known quiescent by
// every Participant having moved on. A failed CAS (another goroutine won
// the race) is not an error — the winner performs the reclamation.
// Returns whether this call was the one that advanced the epoch, for
// callers that want to count real advances rather than no-op attempts.
func (m *Manager) TryAdvance() bool {
	g := m.globalEpoch.Load()

	m.mu.Lock()
	parts := make([]*Participant, len(m.participants))
	copy(parts, m.participants)
	m.mu.Unlock()

	for _, p := range parts {
		if p.active.Load() && p.epoch.Load() != g {
			return false
		}
	}

	next := (g + 1) % numEpochs
	if !m.globalEpoch.CompareAndSwap(g, next) {
		return false
	}

	// The bucket known quiescent after this advance is the one two
	// generations behind the epoch we just moved *into*: reclaim() is
	// invoked per-Participant for clarity and so each goroutine frees
	// only the memory it itself retired, never another's.
	for _, p := range parts {
		p.reclaim(next)
	}

	m.orphanMu.Lock()
	quiescent := (next + 1) % numEpochs
	batch := m.orphans[quiescent]
	m.orphans[quiescent] = nil
	m.orphanMu.Unlock()
	for _, r := range batch {
		r.deleter(r.ptr)
	}

	m.log.Debug("ebr: advanced global epoch", zap.Uint32("epoch", next))
	return true
}

// reclaim frees everything in the bucket that is now two epochs behind
// newEpoch — the bucket guaranteed quiescent by every active participant
// having caught up past it.
func (p *Participant) reclaim(newEpoch uint32) {
	e := (newEpoch + 1) % numEpochs
	batch := p.buckets[e]
	if len(batch) == 0 {
		return
	}
	p.buckets[e] = nil
	for _, r := range batch {
		r.deleter(r.ptr)
	}
}

// PendingCount returns the total number of objects awaiting reclamation
// across all joined participants and the orphan queue. Exposed for
// tests and metrics as a VersionCount-style diagnostic.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	parts := make([]*Participant, len(m.participants))
	copy(parts, m.participants)
	m.mu.Unlock()

	n := 0
	for _, p := range parts {
		for e := 0; e < numEpochs; e++ {
			n += len(p.buckets[e])
		}
	}
	m.orphanMu.Lock()
	for e := 0; e < numEpochs; e++ {
		n += len(m.orphans[e])
	}
	m.orphanMu.Unlock()
	return n
}

// CurrentEpoch returns the Manager's global epoch, for diagnostics.
func (m *Manager) CurrentEpoch() uint32 {
	return m.globalEpoch.Load()
}
