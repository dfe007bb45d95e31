package castm

import "go.uber.org/atomic"

// mvNode is one entry in an MV-OCC variable's version chain: immutable
// once published — write_ts is written exactly once, before the node
// becomes reachable via mvHead.head or another node's prev.
type mvNode[T any] struct {
	writeTS uint64
	prev    atomic.Pointer[mvNode[T]]
	payload T
}

// mvHead is the MV-OCC flavor's variable representation: a singly
// linked stack of version nodes, head newest, bounded to the head plus
// historyCap older nodes.
type mvHead[T any] struct {
	head       atomic.Pointer[mvNode[T]]
	historyCap int
}

func newMVHead[T any](initial T, historyCap int) *mvHead[T] {
	n := &mvNode[T]{writeTS: 0, payload: initial}
	h := &mvHead[T]{historyCap: historyCap}
	h.head.Store(n)
	return h
}

// loadVisible walks the chain from head following prev until it finds a
// node with write_ts <= rv. Returns ErrNoVisibleVersion if the chain is
// exhausted first: the bounded-history boundary condition where rv is
// older than every retained version.
func (h *mvHead[T]) loadVisible(rv uint64) (T, error) {
	cur := h.head.Load()
	for cur != nil {
		if cur.writeTS <= rv {
			return cur.payload, nil
		}
		cur = cur.prev.Load()
	}
	var zero T
	return zero, ErrNoVisibleVersion
}

// validate implements the strict TL2 rule (see DESIGN.md): true iff the
// current head's write_ts <= rv. A newer head proves a conflicting
// commit landed after rv. The looser "walk older versions" validator
// some MVCC designs use is intentionally not implemented here — it
// admits lost updates.
func (h *mvHead[T]) validate(rv uint64) bool {
	head := h.head.Load()
	return head == nil || head.writeTS <= rv
}

// committer publishes newPayload as the new head at writeVersion, then
// walks historyCap steps down the chain and — if a tail still hangs off
// the end — detaches it (nulls its predecessor's prev). It does not
// retire the tail itself: it returns the detached node (or nil) so the
// caller can hand it to EBR with the right Participant.
func (h *mvHead[T]) committer(payload T, writeVersion uint64, oldHead *mvNode[T]) (newHead *mvNode[T], detached *mvNode[T]) {
	n := &mvNode[T]{writeTS: writeVersion, payload: payload}
	n.prev.Store(oldHead)
	h.head.Store(n) // release-store: publishes n and everything it points to

	cur := n
	for i := 0; i < h.historyCap && cur != nil; i++ {
		cur = cur.prev.Load()
	}
	if cur == nil {
		return n, nil
	}
	tail := cur.prev.Load()
	if tail == nil {
		return n, nil
	}
	cur.prev.Store(nil)
	return n, tail
}
