package castm

import "errors"

// Sentinel errors, generalized across all three flavors. Client code
// should compare against these with errors.Is; Atomically never lets
// conflictKind errors escape, only these (and whatever the body itself
// returned).
var (
	// ErrConflict is never returned as such: every conflict error that
	// Load, Store or commit produce matches it under errors.Is.
	// Atomically retries every conflict internally and never returns one
	// from the public entry point. Exported so tests and callers that use
	// Load/Store directly can recognize the condition.
	ErrConflict = errors.New("castm: conflict detected")

	// ErrTxDone names the misuse of a Tx that has already committed or
	// aborted. No function in this package returns it: Load, Store,
	// Alloc and Free do not check whether their Tx has ended.
	ErrTxDone = errors.New("castm: transaction already completed")

	// ErrNoVisibleVersion is the MV-OCC boundary condition where the
	// read version is older than every retained version in the chain.
	ErrNoVisibleVersion = errors.New("castm: no version visible at read timestamp")

	// ErrWounded is returned from a Wound-Wait Tx's Store/Commit once an
	// older transaction has forcibly aborted it.
	ErrWounded = errors.New("castm: transaction wounded by an older writer")

	// ErrNilVar is a precondition failure: a nil *Var was passed to
	// Load/Store/NewVar. Client misuse, not contention — fail fast.
	ErrNilVar = errors.New("castm: nil Var")

	// ErrAllocNotSupported is returned by Tx.Alloc/Tx.Free on an Engine
	// configured for the Wound-Wait flavor, which has no transactional
	// allocator facade; allocation is an OCC-only facility.
	ErrAllocNotSupported = errors.New("castm: transactional allocation is only available under MV-OCC or SV-OCC")
)

// conflictKind discriminates why a transaction could not proceed, purely
// for diagnostics and metrics labels; the retry decision itself is the
// same for every kind across all three flavors rather than resolved
// differently per-kind.
type conflictKind uint8

const (
	conflictLock conflictKind = iota
	conflictValidation
	conflictWounded
	conflictTruncatedHistory
)

func (k conflictKind) String() string {
	switch k {
	case conflictLock:
		return "lock"
	case conflictValidation:
		return "validation"
	case conflictWounded:
		return "wounded"
	case conflictTruncatedHistory:
		return "truncated"
	default:
		return "unknown"
	}
}

// conflict is the internal, typed discriminant: retry-vs-commit is
// decided by inspecting this type via errors.As, never by
// panic/recover.
type conflict struct {
	kind conflictKind
}

func (c *conflict) Error() string { return "castm: conflict (" + c.kind.String() + ")" }

// Is lets errors.Is(err, ErrConflict) succeed for any conflict, so
// callers that don't care about the kind can match the exported
// sentinel, and errors.Is(err, ErrWounded) succeed for a wounded one.
func (c *conflict) Is(target error) bool {
	return target == ErrConflict || (c.kind == conflictWounded && target == ErrWounded)
}

func isConflict(err error) (*conflict, bool) {
	var c *conflict
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}
