// Package metrics exposes the engine's counters as plain
// prometheus.Collectors. CaSTM never registers them itself or serves an
// HTTP handler — a library has no business opening a listener; an
// embedding service registers whichever Collectors it wants on its own
// registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set is the collection of counters a castm.Engine updates as
// transactions run. All fields are safe for concurrent use (they are
// themselves prometheus metric types).
type Set struct {
	Commits        prometheus.Counter
	Aborts         *prometheus.CounterVec // labeled by "kind": lock, validation, wounded, truncated, user
	Retries        prometheus.Counter
	Wounds         prometheus.Counter
	EpochAdvances  prometheus.Counter
	ObjectsFreed   prometheus.Counter
	PendingRetired prometheus.GaugeFunc
}

// New constructs a Set with the given namespace (e.g. the embedding
// service's name) so multiple engines in one process don't collide on
// metric names when registered together.
func New(namespace string, pending func() float64) *Set {
	s := &Set{
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "castm",
			Name:      "commits_total",
			Help:      "Number of transactions that committed successfully.",
		}),
		Aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "castm",
			Name:      "aborts_total",
			Help:      "Number of transactions that aborted, labeled by reason.",
		}, []string{"kind"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "castm",
			Name:      "retries_total",
			Help:      "Number of times the atomic-block wrapper re-ran a body after a conflict.",
		}),
		Wounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "castm",
			Name:      "wounds_total",
			Help:      "Number of Wound-Wait transactions forcibly aborted by an older writer.",
		}),
		EpochAdvances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "castm",
			Name:      "ebr_epoch_advances_total",
			Help:      "Number of times the EBR global epoch advanced.",
		}),
		ObjectsFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "castm",
			Name:      "ebr_objects_freed_total",
			Help:      "Number of retired objects reclaimed by EBR (superseded version nodes and freed transactional allocations).",
		}),
	}
	if pending != nil {
		s.PendingRetired = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "castm",
			Name:      "ebr_pending_retired",
			Help:      "Number of retired objects awaiting reclamation.",
		}, pending)
	}
	return s
}

// Collectors returns every non-nil collector in the Set, for callers
// that want to register them in one call:
// registry.MustRegister(s.Collectors()...).
func (s *Set) Collectors() []prometheus.Collector {
	cs := []prometheus.Collector{s.Commits, s.Aborts, s.Retries, s.Wounds, s.EpochAdvances, s.ObjectsFreed}
	if s.PendingRetired != nil {
		cs = append(cs, s.PendingRetired)
	}
	return cs
}
