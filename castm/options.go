package castm

import (
	"go.uber.org/zap"

	"github.com/ZephyrVia/CaSTM/metrics"
	"github.com/ZephyrVia/CaSTM/slab"
)

type engineConfig struct {
	historyCap         int
	stripeTableSize    int
	ebrRetireThreshold int
	backoffEvery       int
	logger             *zap.Logger
	metrics            *metrics.Set
	allocator          slab.Allocator
}

// Option configures an Engine at construction time.
type Option func(*engineConfig)

// WithHistoryCap overrides DefaultHistoryCap, the number of older
// versions an MV-OCC Var retains behind its head before truncating its
// tail. Ignored by SV-OCC and Wound-Wait Engines.
func WithHistoryCap(n int) Option {
	return func(c *engineConfig) { c.historyCap = n }
}

// WithStripeTableSize overrides DefaultStripeTableSize, the lock table's
// stripe count. Rounded up to a power of two by locktable.New. Ignored
// by Wound-Wait Engines, which have no central lock table.
func WithStripeTableSize(n int) Option {
	return func(c *engineConfig) { c.stripeTableSize = n }
}

// WithEBRRetireThreshold overrides DefaultEBRRetireThreshold.
func WithEBRRetireThreshold(n int) Option {
	return func(c *engineConfig) { c.ebrRetireThreshold = n }
}

// WithBackoffEvery overrides DefaultBackoffEvery, the number of
// consecutive conflict-retries Atomically absorbs before it yields the
// goroutine once via runtime.Gosched.
func WithBackoffEvery(n int) Option {
	return func(c *engineConfig) { c.backoffEvery = n }
}

// WithLogger attaches a zap.Logger. The Engine and its EBR manager log
// through it; the default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *engineConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics attaches a pre-constructed metrics.Set instead of letting
// New build its own — useful when a process runs more than one Engine
// and wants them sharing one namespace's collectors.
func WithMetrics(m *metrics.Set) Option {
	return func(c *engineConfig) { c.metrics = m }
}

// WithAllocator overrides the Engine's transactional slab.Allocator.
// The default is slab.New().
func WithAllocator(a slab.Allocator) Option {
	return func(c *engineConfig) { c.allocator = a }
}
