// Package castm implements a software transactional memory engine with
// three interchangeable concurrency-control flavors — MV-OCC, SV-OCC and
// Wound-Wait — behind one generic Var[T]/Atomically API.
package castm

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ZephyrVia/CaSTM/clock"
	"github.com/ZephyrVia/CaSTM/ebr"
	"github.com/ZephyrVia/CaSTM/locktable"
	"github.com/ZephyrVia/CaSTM/metrics"
	"github.com/ZephyrVia/CaSTM/slab"
)

const (
	// DefaultHistoryCap bounds how many versions an MV-OCC Var retains.
	DefaultHistoryCap = 8
	// DefaultStripeTableSize is the lock table's stripe count for the
	// lock-based flavors (MV-OCC, SV-OCC); rounded up to a power of two.
	DefaultStripeTableSize = 1 << 20
	// DefaultEBRRetireThreshold caps how many objects a Participant
	// accumulates before it nudges the epoch forward on its own.
	DefaultEBRRetireThreshold = 4096
	// DefaultBackoffEvery is how many consecutive retries Atomically
	// lets pass before it yields the goroutine once.
	DefaultBackoffEvery = 8
)

// Engine owns one concurrency-control Flavor's shared state: the clock,
// lock table, EBR manager and allocator every Var and Tx created from it
// reads through. Construct one per transactional memory domain — there
// is no global/singleton Engine.
type Engine struct {
	flavor Flavor

	clock      *clock.Clock
	ebrMgr     *ebr.Manager
	lockTable  *locktable.Table
	allocator  slab.Allocator
	historyCap int

	backoffEvery int

	logger  *zap.Logger
	metrics *metrics.Set

	nextID atomic.Uint64

	descPool sync.Pool
	partPool sync.Pool
}

// New constructs an Engine for the given Flavor. The zero-value
// configuration matches the Default* constants above; override with
// Option values.
func New(flavor Flavor, opts ...Option) *Engine {
	cfg := engineConfig{
		historyCap:         DefaultHistoryCap,
		stripeTableSize:    DefaultStripeTableSize,
		ebrRetireThreshold: DefaultEBRRetireThreshold,
		backoffEvery:       DefaultBackoffEvery,
		logger:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{
		flavor:       flavor,
		clock:        clock.New(),
		lockTable:    locktable.New(cfg.stripeTableSize),
		historyCap:   cfg.historyCap,
		backoffEvery: cfg.backoffEvery,
		logger:       cfg.logger,
	}

	if cfg.allocator != nil {
		e.allocator = cfg.allocator
	} else {
		e.allocator = slab.New()
	}

	e.ebrMgr = ebr.New(
		ebr.WithRetireThreshold(cfg.ebrRetireThreshold),
		ebr.WithLogger(cfg.logger),
	)

	if cfg.metrics != nil {
		e.metrics = cfg.metrics
	} else {
		e.metrics = metrics.New("castm", func() float64 {
			return float64(e.ebrMgr.PendingCount())
		})
	}

	e.descPool.New = func() any { return &Descriptor{} }
	e.partPool.New = func() any { return e.ebrMgr.Join() }

	return e
}

// Flavor reports the concurrency-control protocol this Engine implements.
func (e *Engine) Flavor() Flavor { return e.flavor }

// MetricsSet returns the Engine's metrics.Set — the embedding service
// registers its Collectors(); castm itself never registers or serves
// them.
func (e *Engine) MetricsSet() *metrics.Set { return e.metrics }

// Clock exposes the Engine's GlobalClock for tests and diagnostics that
// need a stable read of the current logical time.
func (e *Engine) Clock() *clock.Clock { return e.clock }
