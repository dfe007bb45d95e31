// Package slab supplies the default implementation of the tiered
// allocator CaSTM's transactional allocator facade consumes through the
// Allocator contract. Only Alloc/Free and the chunk-alignment guarantee
// for large requests are load-bearing; the allocator's internal
// structure is otherwise free to vary. This package gives the engine
// something real to call by default — a thread-local freelist over a
// small size-class table backed by a central pool — without pretending
// to be a production-grade malloc.
package slab

import (
	"sync"
	"unsafe"
)

// Allocator is the contract CaSTM's transactional allocator facade
// (Tx.Alloc/Tx.Free) consumes. Any type satisfying it — including a
// caller's own production allocator — may be plugged into an Engine via
// castm.WithAllocator.
type Allocator interface {
	// Alloc returns size bytes of zeroed, chunk-aligned-for-large-requests
	// memory. Never returns nil.
	Alloc(size uintptr) unsafe.Pointer
	// Free returns ptr to the allocator. Idempotent on nil; freeing a
	// pointer not obtained from Alloc (or freeing one twice) is a caller
	// bug, not a condition this interface is required to detect.
	Free(ptr unsafe.Pointer)
}

// chunkAlignment is the alignment guaranteed for large requests (any
// request above the largest size class, 2048 bytes), matching the
// "chunk-aligned for large requests" contract consumed by the engine.
const (
	chunkAlignment = 64
	largeThreshold = 4096
	numClasses     = 8

	// headerSize precedes every pointer Alloc hands out, recording which
	// size class (or largeClass) it was carved from so Free can return
	// it to the right freelist without the caller passing size back in.
	headerSize  = unsafe.Sizeof(int64(0))
	largeClass  = -1
)

// sizeClasses are the bucket ceilings a request is rounded up to.
// Requests above the largest class (2048 bytes, so every request at or
// above largeThreshold too) bypass the freelists entirely and are
// allocated (and aligned) individually.
var sizeClasses = [numClasses]uintptr{16, 32, 64, 128, 256, 512, 1024, 2048}

// Pool is the shared pool every Heap borrows from when its own
// freelist for a class is empty, and returns excess to when its
// freelist for a class grows past a cap. It exists only so a goroutine
// that allocates heavily and then exits doesn't strand memory in a
// freelist nobody else can reach — the Go analogue of the tiered
// allocator's "central chunk pool". Safe for concurrent use by many
// Heaps at once.
type Pool struct {
	mu   sync.Mutex
	free [numClasses][]unsafe.Pointer
	cap  int
}

// NewPool returns a central Pool with room for cap blocks per size
// class before it starts discarding back to the garbage collector.
func NewPool(cap int) *Pool {
	if cap <= 0 {
		cap = 256
	}
	return &Pool{cap: cap}
}

// Heap is a thread-local (in Go terms: goroutine- or caller-scoped)
// slab heap: per-size-class freelists backed by a shared central Pool.
// Not safe for concurrent use by more than one goroutine — callers that
// want a shared allocator should construct one Heap per worker, the way
// a real tiered allocator hands out one thread-local heap per OS thread.
type Heap struct {
	c     *Pool
	local [numClasses][]unsafe.Pointer
}

// New returns a process-wide Allocator: a single Heap over a single
// central Pool, suitable as Engine's default. Callers with per-worker
// throughput requirements can construct their own Pool and hand each
// worker its own Heap via NewHeap for less freelist contention.
func New() Allocator {
	return NewHeap(NewPool(256))
}

// NewHeap returns a Heap sharing p's central pool. Multiple Heaps may
// share one Pool safely; a Heap itself may not be shared.
func NewHeap(p *Pool) *Heap {
	return &Heap{c: p}
}

func classFor(size uintptr) (idx int, classSize uintptr, ok bool) {
	for i, s := range sizeClasses {
		if size <= s {
			return i, s, true
		}
	}
	return 0, 0, false
}

// Alloc implements Allocator.
func (h *Heap) Alloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		size = 1
	}

	idx, classSize, ok := classFor(size)
	if !ok || size >= largeThreshold {
		return h.carve(size, largeClass, chunkAlignment)
	}

	if n := len(h.local[idx]); n > 0 {
		p := h.local[idx][n-1]
		h.local[idx] = h.local[idx][:n-1]
		zero(p, classSize)
		return p
	}

	h.c.mu.Lock()
	if n := len(h.c.free[idx]); n > 0 {
		p := h.c.free[idx][n-1]
		h.c.free[idx] = h.c.free[idx][:n-1]
		h.c.mu.Unlock()
		zero(p, classSize)
		return p
	}
	h.c.mu.Unlock()

	return h.carve(classSize, idx, 1)
}

// Free implements Allocator. It reads the class tag Alloc wrote just
// before ptr to decide whether the block rejoins a size-class freelist
// or, for a large allocation, is simply dropped (Go's GC reclaims it
// once unreferenced — there is no manual free below the freelist tier).
func (h *Heap) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	idx := readClassTag(ptr)
	if idx == largeClass {
		return
	}

	if len(h.local[idx]) < h.c.cap {
		h.local[idx] = append(h.local[idx], ptr)
		return
	}
	h.c.mu.Lock()
	if len(h.c.free[idx]) < h.c.cap {
		h.c.free[idx] = append(h.c.free[idx], ptr)
	}
	h.c.mu.Unlock()
}

// carve allocates size bytes plus room for the header and alignment
// padding, writes the class tag into the header immediately preceding
// the returned pointer, and returns a pointer aligned to alignment.
func (h *Heap) carve(size uintptr, class int, alignment uintptr) unsafe.Pointer {
	if alignment < 1 {
		alignment = 1
	}
	buf := make([]byte, headerSize+alignment+size)
	base := uintptr(unsafe.Pointer(&buf[0])) + headerSize
	aligned := (base + alignment - 1) &^ (alignment - 1)
	p := unsafe.Pointer(&buf[aligned-uintptr(unsafe.Pointer(&buf[0]))])
	writeClassTag(p, class)
	return p
}

func writeClassTag(p unsafe.Pointer, class int) {
	*(*int64)(unsafe.Pointer(uintptr(p) - headerSize)) = int64(class)
}

func readClassTag(p unsafe.Pointer) int {
	return int(*(*int64)(unsafe.Pointer(uintptr(p) - headerSize)))
}

func zero(p unsafe.Pointer, n uintptr) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = 0
	}
}
