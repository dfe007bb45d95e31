package castm

import (
	"unsafe"

	"github.com/ZephyrVia/CaSTM/ebr"
	"github.com/ZephyrVia/CaSTM/locktable"
)

// retireGCNode returns the deleter to hand Participant.Retire for every
// superseded Var version node (MV-OCC tails, SV-OCC displaced heads, WW
// drafts and stable nodes). These are plain Go objects, not slab memory,
// so the actual reclamation step is a no-op: once no Participant's
// bucket references the node anymore, Go's own GC collects it the
// instant nothing else does. Retiring them anyway — rather than simply
// dropping the reference at commit time — keeps the delay between
// "superseded" and "collectible" governed by the same epoch the rest of
// the engine reasons about, and keeps PendingRetired/ObjectsFreed a
// faithful count of every retirement the engine performs, not just the
// ones backed by raw slab memory.
func (tx *Tx) retireGCNode() func(unsafe.Pointer) {
	return func(unsafe.Pointer) { tx.e.metrics.ObjectsFreed.Inc() }
}

// Tx is a live transaction: the Descriptor it is filling in, the EBR
// Participant guarding its epoch for the transaction's whole lifetime,
// and the Engine it belongs to. Obtained only from Atomically's body
// callback — never construct one directly.
type Tx struct {
	e *Engine
	d *Descriptor
	p *ebr.Participant
}

// begin pulls a pooled Descriptor and EBR Participant, resets the
// former, and samples read_version from the GlobalClock — the Go
// analogue of a per-thread descriptor and per-thread epoch slot,
// neither of which Go has native storage for (see DESIGN.md).
func (e *Engine) begin() *Tx {
	p := e.partPool.Get().(*ebr.Participant)
	p.Enter()

	d := e.descPool.Get().(*Descriptor)
	d.reset()
	d.id = e.nextID.Inc()
	rv := e.clock.Now()
	d.readVersion = rv
	d.startTS = rv

	return &Tx{e: e, d: d, p: p}
}

// end returns tx's Descriptor and Participant to their pools. Called
// exactly once per begin, regardless of commit or abort outcome.
func (tx *Tx) end() {
	tx.p.Leave()
	tx.e.partPool.Put(tx.p)
	tx.e.descPool.Put(tx.d)
}

// Load reads v's value as of tx's read version, honoring read-your-
// own-writes: a prior Store of v within tx is returned without
// consulting v at all.
func Load[T any](tx *Tx, v *Var[T]) (T, error) {
	var zero T
	if v == nil {
		return zero, ErrNilVar
	}
	addr := v.addr()

	if we, ok := tx.d.findWrite(addr); ok {
		val, _ := we.readBack().(T)
		return val, nil
	}

	switch v.flavor {
	case FlavorMVOCC:
		// A locked stripe means some transaction is mid-commit on this
		// stripe right now; bail out early rather than read a head that
		// is about to be superseded and fail validation later anyway.
		idx := tx.e.lockTable.IndexOf(addr)
		if tx.e.lockTable.IsLockedIndex(idx) {
			return zero, &conflict{kind: conflictLock}
		}
		val, err := v.mv.loadVisible(tx.d.readVersion)
		if err != nil {
			// The chain is exhausted before a visible version turned up:
			// rv is older than every version this Var retained. Exactly
			// like a lock-busy commit, the right response is to throw
			// the whole attempt away and retry with a fresher read
			// version, never to fail the caller outright.
			return zero, &conflict{kind: conflictTruncatedHistory}
		}
		head := v.mv
		tx.d.addReadEntry(readEntry{
			addr:     addr,
			lockIdx:  idx,
			validate: func(rv uint64) bool { return head.validate(rv) },
		})
		return val, nil

	case FlavorSVOCC:
		idx := tx.e.lockTable.IndexOf(addr)
		if tx.e.lockTable.IsLockedIndex(idx) {
			return zero, &conflict{kind: conflictLock}
		}
		val, err := v.sv.loadVisible(tx.d.readVersion)
		if err != nil {
			// SV-OCC retains no history at all, so a head newer than rv
			// is the single-version analogue of MV-OCC's exhausted
			// chain: a concurrent commit already landed after our read
			// version. Retry, same as any other validation conflict.
			return zero, &conflict{kind: conflictValidation}
		}
		head := v.sv
		tx.d.addReadEntry(readEntry{
			addr:     addr,
			lockIdx:  idx,
			validate: func(rv uint64) bool { return head.validate(rv) },
		})
		return val, nil

	case FlavorWW:
		cell := v.ww
		val, dv := cell.readProxy(tx.d)
		tx.d.addReadEntry(readEntry{
			addr:          addr,
			wwDataVersion: dv,
			wwGetVersion:  func() uint64 { return cell.getDataVersion() },
		})
		return val, nil

	default:
		return zero, ErrNilVar
	}
}

// Store drafts val as v's next value. MV-OCC and SV-OCC only log the
// draft here and publish it at commit under the variable's stripe
// lock; Wound-Wait resolves the write-write conflict eagerly, right
// here.
func Store[T any](tx *Tx, v *Var[T], val T) error {
	if v == nil {
		return ErrNilVar
	}
	addr := v.addr()
	captured := val

	switch v.flavor {
	case FlavorMVOCC:
		head := v.mv
		tx.d.addWriteEntry(writeEntry{
			addr:     addr,
			lockIdx:  tx.e.lockTable.IndexOf(addr),
			hasLock:  true,
			readBack: func() any { return captured },
			commit: func(wv uint64) {
				old := head.head.Load()
				_, detached := head.committer(captured, wv, old)
				if detached != nil {
					tx.p.Retire(unsafe.Pointer(detached), tx.retireGCNode())
				}
			},
		})
		return nil

	case FlavorSVOCC:
		head := v.sv
		tx.d.addWriteEntry(writeEntry{
			addr:     addr,
			lockIdx:  tx.e.lockTable.IndexOf(addr),
			hasLock:  true,
			readBack: func() any { return captured },
			commit: func(wv uint64) {
				old := head.head.Load()
				_, displaced := head.committer(captured, wv, old)
				if displaced != nil {
					tx.p.Retire(unsafe.Pointer(displaced), tx.retireGCNode())
				}
			},
		})
		return nil

	case FlavorWW:
		cell := v.ww
		rec, displaced, err := cell.tryWrite(tx.d, val)
		if err != nil {
			return err
		}
		if displaced != nil {
			tx.p.Retire(unsafe.Pointer(displaced), tx.retireGCNode())
		}
		// Write-after-read guard: if this transaction already read v, the
		// committed version it read must still be the one underneath the
		// record just installed. A mismatch means a commit landed between
		// the read and this write — roll the record back right now instead
		// of letting commit-time validation discover the same thing after
		// the transaction has done more work.
		for i := range tx.d.readSet {
			re := &tx.d.readSet[i]
			if re.addr == addr && re.wwDataVersion != cell.getDataVersion() {
				cell.abortRestore(rec)
				return &conflict{kind: conflictValidation}
			}
		}
		tx.d.addWriteEntry(writeEntry{
			addr:     addr,
			hasLock:  false,
			readBack: func() any { return captured },
			wwStamp: func(wv uint64) { rec.stamp(wv) },
			wwPublish: func() {
				old := cell.publish(rec)
				tx.p.Retire(unsafe.Pointer(old), tx.retireGCNode())
			},
			wwAbortRestore: func() { cell.abortRestore(rec) },
		})
		return nil

	default:
		return ErrNilVar
	}
}

// Alloc carves a transactional object from tx's Engine allocator,
// tracked so a later abort frees it immediately — an unpublished
// allocation is reachable from nowhere but this Descriptor, so unlike
// Free it never touches EBR. Only available under MV-OCC or SV-OCC;
// Wound-Wait has no commit-time critical section to anchor the
// allocation's visibility to.
func Alloc[T any](tx *Tx) (*T, error) {
	if tx.e.flavor == FlavorWW {
		return nil, ErrAllocNotSupported
	}
	var zero T
	raw := tx.e.allocator.Alloc(unsafe.Sizeof(zero))
	tx.d.trackAllocation(raw)
	return (*T)(raw), nil
}

// Free queues ptr for reclamation at commit. The actual slab.Free call
// is deferred through EBR so a concurrent lock-free reader that is
// mid-dereference of ptr — reached via an older still-valid version —
// is never handed memory out from under it. An abort discards the
// queue: the object stays exactly as reachable as before Free was
// called.
func Free[T any](tx *Tx, ptr *T) error {
	if tx.e.flavor == FlavorWW {
		return ErrAllocNotSupported
	}
	if ptr == nil {
		return nil
	}
	tx.d.queueFree(unsafe.Pointer(ptr))
	return nil
}

// commit attempts to make tx's effects visible. A non-nil, non-conflict
// error means something genuinely failed (never expected from the
// paths below, but returned rather than panicked so a future flavor
// extension has somewhere to put one); a conflict error means the
// caller should retry the whole body.
func (tx *Tx) commit() error {
	// Read-only fast path: a transaction with no writes linearizes at its
	// begin time — every Load already returned a consistent snapshot at
	// read_version, so there is nothing to validate, no lock to take and
	// no clock tick to burn. Queued frees and allocations still settle.
	if len(tx.d.writeSet) == 0 {
		tx.d.commitFrees(func(p unsafe.Pointer) {
			tx.p.Retire(p, func(pp unsafe.Pointer) {
				tx.e.allocator.Free(pp)
				tx.e.metrics.ObjectsFreed.Inc()
			})
		})
		tx.d.commitAllocations()
		return nil
	}

	switch tx.e.flavor {
	case FlavorMVOCC, FlavorSVOCC:
		return tx.commitLocked()
	case FlavorWW:
		return tx.commitWW()
	default:
		return ErrNilVar
	}
}

// unlockAll releases every stripe d holds, in the order they were
// acquired — UnlockIndex never needs to run in reverse since distinct
// stripes don't nest.
func (d *Descriptor) unlockAll(lt *locktable.Table) {
	for _, idx := range d.lockSet {
		lt.UnlockIndex(idx)
	}
}

// commitLocked is MV-OCC/SV-OCC's shared commit path: acquire every
// stripe this transaction writes to, then validate the read-set against
// that lock, publish, and release. The read-set validation is a
// pre-check/validate/fence/post-check sandwich rather than a single
// validate call, to close a stripe-hash collision window: entry.addr may
// share a stripe with some unrelated Var a concurrent transaction is
// committing right now, and the plain write_ts comparison inside
// validate has no way to see that the stripe (not necessarily this
// entry's own Var) is mid-commit. The pre-check catches the case where
// the stripe was already locked by someone else before we even read the
// version; the post-check — run after validate, with a read of the lock
// flag that cannot be reordered ahead of validate's own atomic reads,
// since Go's memory model treats sync/atomic operations as sequentially
// consistent with program order — catches a committer that acquired the
// stripe in the narrow window between our version check and the lock
// check. holdsLock distinguishes "locked by me" (expected; no conflict)
// from "locked by someone else" (a real collision) via binary search
// over the sorted lock-set.
func (tx *Tx) commitLocked() error {
	d := tx.d
	lt := tx.e.lockTable

	for _, idx := range d.lockSet {
		lt.LockIndex(idx)
	}

	for _, re := range d.readSet {
		if lt.IsLockedIndex(re.lockIdx) && !d.holdsLock(re.lockIdx) {
			d.unlockAll(lt)
			return &conflict{kind: conflictLock}
		}

		if !re.validate(d.readVersion) {
			d.unlockAll(lt)
			return &conflict{kind: conflictValidation}
		}

		if lt.IsLockedIndex(re.lockIdx) && !d.holdsLock(re.lockIdx) {
			d.unlockAll(lt)
			return &conflict{kind: conflictLock}
		}
	}

	wv := tx.e.clock.Tick()
	for _, we := range d.writeSet {
		we.commit(wv)
	}

	d.unlockAll(lt)

	d.commitFrees(func(p unsafe.Pointer) {
		tx.p.Retire(p, func(pp unsafe.Pointer) {
			tx.e.allocator.Free(pp)
			tx.e.metrics.ObjectsFreed.Inc()
		})
	})
	d.commitAllocations()
	return nil
}

func (tx *Tx) commitWW() error {
	d := tx.d

	for _, re := range d.readSet {
		if re.wwGetVersion() != re.wwDataVersion {
			tx.abortWW()
			return &conflict{kind: conflictValidation}
		}
	}

	wv := tx.e.clock.Tick()
	for _, we := range d.writeSet {
		we.wwStamp(wv)
	}

	if !d.status.CompareAndSwap(uint32(txActive), uint32(txCommitted)) {
		for _, we := range d.writeSet {
			we.wwAbortRestore()
		}
		return &conflict{kind: conflictWounded}
	}

	for _, we := range d.writeSet {
		we.wwPublish()
	}

	d.commitFrees(func(p unsafe.Pointer) {
		tx.p.Retire(p, func(pp unsafe.Pointer) {
			tx.e.allocator.Free(pp)
			tx.e.metrics.ObjectsFreed.Inc()
		})
	})
	d.commitAllocations()
	return nil
}

// abort discards tx's draft effects. Under Wound-Wait it marks the
// Descriptor ABORTED and restores every installed record; both steps are
// CAS-guarded, so running them again after commitWW already failed is
// harmless. Under every flavor it then frees the allocation log and
// drops the queued frees.
func (tx *Tx) abort() {
	if tx.e.flavor == FlavorWW {
		tx.abortWW()
	}
	tx.d.rollbackAllocations(tx.e.allocator.Free)
	tx.d.freed = tx.d.freed[:0]
}

func (tx *Tx) abortWW() {
	tx.d.status.CompareAndSwap(uint32(txActive), uint32(txAborted))
	for _, we := range tx.d.writeSet {
		we.wwAbortRestore()
	}
}
