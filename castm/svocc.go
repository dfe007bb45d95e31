package castm

import "go.uber.org/atomic"

// svNode is the SV-OCC flavor's single version node: a variable owns
// exactly one, CAS-replaced wholesale at each commit.
type svNode[T any] struct {
	writeTS uint64
	payload T
}

// svHead holds the atomic head pointer.
type svHead[T any] struct {
	head atomic.Pointer[svNode[T]]
}

func newSVHead[T any](initial T) *svHead[T] {
	h := &svHead[T]{}
	h.head.Store(&svNode[T]{writeTS: 0, payload: initial})
	return h
}

// loadVisible reads the head and returns its payload if its write_ts is
// at or before rv, else ErrNoVisibleVersion (which Load turns into a
// conflict): SV-OCC retains no history, so any head newer than rv is
// unconditionally invisible.
func (h *svHead[T]) loadVisible(rv uint64) (T, error) {
	head := h.head.Load()
	if head.writeTS <= rv {
		return head.payload, nil
	}
	var zero T
	return zero, ErrNoVisibleVersion
}

func (h *svHead[T]) validate(rv uint64) bool {
	head := h.head.Load()
	return head.writeTS <= rv
}

// committer CAS-replaces the head with a freshly stamped node and
// returns the displaced node for EBR retirement.
func (h *svHead[T]) committer(payload T, writeVersion uint64, oldHead *svNode[T]) (newHead *svNode[T], displaced *svNode[T]) {
	n := &svNode[T]{writeTS: writeVersion, payload: payload}
	if !h.head.CompareAndSwap(oldHead, n) {
		// The caller holds the variable's stripe lock for the duration of
		// commit (MV-OCC/SV-OCC are lock-based flavors), so no other
		// writer can race this CAS; a failure here would indicate a
		// locking-discipline bug, not a legitimate conflict to retry.
		panic("castm: svHead CAS raced under lock — locking invariant violated")
	}
	return n, oldHead
}
