package castm

import "runtime"

// Atomically runs body inside a transaction, retrying it from scratch
// every time it reports a conflict, until it either commits or body (or
// commit itself) returns a non-conflict error. body receives a fresh Tx
// on every attempt — nothing from a retried attempt carries over.
//
// This is the same retry loop across all three flavors: begin, run
// body, validate/commit, and on conflict throw the whole attempt away
// and start over. Go has no exceptions to unwind through, so "conflict"
// here is a typed error discriminant, checked with errors.As via
// isConflict.
func Atomically[R any](e *Engine, body func(tx *Tx) (R, error)) (R, error) {
	var zero R
	retries := 0

	for {
		tx := e.begin()
		result, err := body(tx)

		if err == nil {
			err = tx.commit()
		}

		if err == nil {
			tx.end()
			e.metrics.Commits.Inc()
			if e.ebrMgr.TryAdvance() {
				e.metrics.EpochAdvances.Inc()
			}
			return result, nil
		}

		tx.abort()
		tx.end()

		if cf, ok := isConflict(err); ok {
			e.metrics.Aborts.WithLabelValues(cf.kind.String()).Inc()
			if cf.kind == conflictWounded {
				e.metrics.Wounds.Inc()
			}
			e.metrics.Retries.Inc()
			if e.ebrMgr.TryAdvance() {
				e.metrics.EpochAdvances.Inc()
			}

			retries++
			if e.backoffEvery > 0 && retries%e.backoffEvery == 0 {
				runtime.Gosched()
			}
			continue
		}

		e.metrics.Aborts.WithLabelValues("user").Inc()
		return zero, err
	}
}
