package castm

import (
	"runtime"

	"go.uber.org/atomic"
)

// wwNode is a Wound-Wait version node: value plus the write_ts it was
// published at. Its write_ts field is mutated exactly once, by stamp,
// strictly before the owning transaction's status CAS makes the node
// reachable to any other transaction's readProxy — see the stamp/publish
// split below for why that ordering is load-bearing rather than
// cosmetic.
type wwNode[T any] struct {
	writeTS uint64
	payload T
}

// wwRecord is the mutable hand-off record between a writer and future
// readers: owner plus the prior stable node and the tentative draft.
type wwRecord[T any] struct {
	owner   *Descriptor
	oldNode *wwNode[T]
	newNode *wwNode[T]
}

// wwCell is the Wound-Wait flavor's variable representation: the stable
// committed node plus a nullable in-flight write record.
type wwCell[T any] struct {
	dataPtr   atomic.Pointer[wwNode[T]]
	recordPtr atomic.Pointer[wwRecord[T]]
}

func newWWCell[T any](initial T) *wwCell[T] {
	c := &wwCell[T]{}
	c.dataPtr.Store(&wwNode[T]{writeTS: 0, payload: initial})
	return c
}

// getDataVersion is the per-variable version WW's commit-time read-set
// validation and write-after-read guard compare against.
func (c *wwCell[T]) getDataVersion() uint64 {
	return c.dataPtr.Load().writeTS
}

// readProxy returns the value self should see: its own draft if it has
// one, the committed draft of a concurrent writer once that writer has
// committed, or the last stable value otherwise.
func (c *wwCell[T]) readProxy(self *Descriptor) (T, uint64) {
	rec := c.recordPtr.Load()
	if rec == nil {
		stable := c.dataPtr.Load()
		return stable.payload, stable.writeTS
	}
	if rec.owner == self {
		return rec.newNode.payload, rec.newNode.writeTS
	}
	if txStatus(rec.owner.status.Load()) == txCommitted {
		return rec.newNode.payload, rec.newNode.writeTS
	}
	return rec.oldNode.payload, rec.oldNode.writeTS
}

// tryWrite resolves a write-write conflict eagerly, right here, not at
// commit. On success it returns the installed record and the draft it
// displaced (if any — an aborted owner's draft, safe to retire because a
// transaction already ABORTED can never again be read from). On
// conflict it returns a *conflict; the caller (Tx.Store) propagates that
// as the Store call's own error — there is no blind-write rejection,
// only eager per-variable resolution.
func (c *wwCell[T]) tryWrite(self *Descriptor, value T) (installed *wwRecord[T], displacedDraft *wwNode[T], err error) {
	for {
		current := c.recordPtr.Load()

		if current != nil && current.owner == self {
			// Reentrant write: replace our own draft in place, keep the
			// original old_node snapshot from our first write to this
			// cell this transaction.
			draft := &wwNode[T]{payload: value}
			mine := &wwRecord[T]{owner: self, oldNode: current.oldNode, newNode: draft}
			if !c.recordPtr.CompareAndSwap(current, mine) {
				continue
			}
			return mine, current.newNode, nil
		}

		if current != nil {
			switch txStatus(current.owner.status.Load()) {
			case txActive:
				if self.olderThan(current.owner) {
					current.owner.status.CompareAndSwap(uint32(txActive), uint32(txAborted))
					continue
				}
				return nil, nil, &conflict{kind: conflictWounded}
			case txCommitted:
				runtime.Gosched()
				continue
			case txAborted:
				// fall through to steal below
			}
		}

		stable := c.dataPtr.Load()
		draft := &wwNode[T]{payload: value}
		mine := &wwRecord[T]{owner: self, oldNode: stable, newNode: draft}

		if !c.recordPtr.CompareAndSwap(current, mine) {
			continue
		}

		// ABA recheck: a commit could have raced between our stable
		// snapshot and the CAS above.
		if c.dataPtr.Load() != stable {
			c.recordPtr.CompareAndSwap(mine, nil)
			continue
		}

		var displaced *wwNode[T]
		if current != nil {
			displaced = current.newNode
		}
		return mine, displaced, nil
	}
}

// stamp writes rec's draft's final write_ts. Must be called before the
// owning transaction's status CAS to ACTIVE -> COMMITTED, so that by the
// time any other transaction's readProxy observes COMMITTED, the field
// it is about to read is already final — the CAS's atomic store supplies
// the release barrier this plain field write rides on.
func (rec *wwRecord[T]) stamp(writeVersion uint64) {
	rec.newNode.writeTS = writeVersion
}

// publish makes rec.newNode the cell's stable node and clears the
// record, returning the superseded node for EBR retirement; the record
// itself is not returned.
// Must be called after the owning transaction's status CAS has already
// succeeded.
func (c *wwCell[T]) publish(rec *wwRecord[T]) (oldNode *wwNode[T]) {
	c.dataPtr.Store(rec.newNode)
	c.recordPtr.Store(nil)
	return rec.oldNode
}

// abortRestore is the rollback path: CAS record_ptr back to nil if we
// still hold it. A failed CAS means another transaction already stole
// it (we were already ABORTED by then) — nothing to do.
func (c *wwCell[T]) abortRestore(rec *wwRecord[T]) {
	c.recordPtr.CompareAndSwap(rec, nil)
}

// olderThan breaks ties by descriptor id when start_ts is equal,
// guaranteeing the strict total order Wound-Wait's policy needs: id is
// assigned once per begin() in strictly increasing order, giving the
// same total-order property an address comparison would, without
// resorting to unsafe pointer arithmetic for something id already
// guarantees.
func (d *Descriptor) olderThan(o *Descriptor) bool {
	if d.startTS != o.startTS {
		return d.startTS < o.startTS
	}
	return d.id < o.id
}
