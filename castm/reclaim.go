package castm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartBackgroundReclaim runs a periodic ebr.Manager.TryAdvance loop
// until ctx is done or the returned stop func is called. It exists for
// applications whose transaction rate is too low or bursty to rely on
// Atomically's own post-commit/post-abort TryAdvance calls to keep
// PendingRetired bounded: a quiet Engine with no in-flight transactions
// otherwise never advances its epoch, no matter how many objects are
// waiting behind it.
//
// Starting this loop is optional — the three-epoch scheme stays correct
// without it, just lazier about reclaiming.
func (e *Engine) StartBackgroundReclaim(ctx context.Context, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if e.ebrMgr.TryAdvance() {
					e.metrics.EpochAdvances.Inc()
					e.logger.Debug("background reclaim advanced epoch",
						zap.Int("pending", e.ebrMgr.PendingCount()))
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
