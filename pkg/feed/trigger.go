package feed

import (
	"errors"
	"sync"

	"github.com/Sternrassler/scrollfeed/pkg/pagination"
	"github.com/Sternrassler/scrollfeed/pkg/visibility"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// VisibilityThreshold is the visible fraction of the sentinel that triggers
// the next batch.
const VisibilityThreshold = 0.5

var (
	feedTriggerObservesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_trigger_observes_total",
		Help: "Total sentinel observations established by visibility triggers",
	})

	feedTriggerAdvancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_trigger_advances_total",
		Help: "Total advances requested by visibility triggers",
	})
)

// Pager is the part of the paginator the trigger drives.
type Pager interface {
	Snapshot() pagination.Snapshot
	Subscribe(fn func(pagination.Snapshot)) (unsubscribe func())
	Advance() bool
}

// Region creates observers on a watched region.
type Region interface {
	NewObserver(threshold float64) visibility.Observer
}

// observeKey is the part of a snapshot whose change re-establishes the observer.
type observeKey struct {
	state          pagination.State
	cursor         int
	total          int
	initialLoading bool
}

func keyOf(s pagination.Snapshot) observeKey {
	return observeKey{
		state:          s.State,
		cursor:         s.Cursor,
		total:          s.Total,
		initialLoading: s.InitialLoading,
	}
}

// Trigger advances a pager whenever its sentinel region becomes visible.
//
// The observer is rebuilt each time loading, cursor or the record set
// change, so a callback always judges the state it was bound to. No observer
// exists before the record set arrives or once nothing is left to reveal.
type Trigger struct {
	pager     Pager
	region    Region
	threshold float64
	logger    zerolog.Logger

	mu          sync.Mutex
	observer    visibility.Observer
	key         observeKey
	lastVersion uint64
	synced      bool
	unsubscribe func()
	closed      bool
	startOnce   sync.Once
	closeOnce   sync.Once
}

// NewTrigger creates a trigger. Start must be called to begin observing.
func NewTrigger(pager Pager, region Region, threshold float64, logger zerolog.Logger) *Trigger {
	return &Trigger{
		pager:     pager,
		region:    region,
		threshold: threshold,
		logger:    logger,
	}
}

// Start subscribes to the pager and establishes the first observation.
func (t *Trigger) Start() {
	t.startOnce.Do(func() {
		unsubscribe := t.pager.Subscribe(t.sync)

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			unsubscribe()
			return
		}
		t.unsubscribe = unsubscribe
		t.mu.Unlock()

		t.sync(t.pager.Snapshot())
	})
}

// Close disconnects the observer and stops following the pager.
// It is idempotent and safe to call before Start.
func (t *Trigger) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		observer := t.observer
		unsubscribe := t.unsubscribe
		t.observer = nil
		t.unsubscribe = nil
		t.mu.Unlock()

		defer func() {
			if unsubscribe != nil {
				unsubscribe()
			}
		}()
		if observer != nil {
			observer.Disconnect()
		}

		t.logger.Debug().Msg("Visibility trigger closed")
	})
}

// Observing reports whether an observer is currently established.
func (t *Trigger) Observing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.observer != nil
}

// sync re-establishes the observer for a new snapshot. The new observer is
// installed under the lock and started after it is released, because a
// sentinel that is already visible delivers its entry from Observe.
func (t *Trigger) sync(s pagination.Snapshot) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.synced && s.Version < t.lastVersion {
		t.mu.Unlock()
		return
	}
	key := keyOf(s)
	if t.synced && key == t.key {
		t.lastVersion = s.Version
		t.mu.Unlock()
		return
	}
	t.synced = true
	t.lastVersion = s.Version
	t.key = key

	if t.observer != nil {
		t.observer.Disconnect()
		t.observer = nil
	}

	if s.InitialLoading || !s.HasMore() {
		t.mu.Unlock()
		return
	}

	observer := t.region.NewObserver(t.threshold)
	t.observer = observer
	t.mu.Unlock()

	feedTriggerObservesTotal.Inc()
	t.logger.Debug().
		Int("cursor", s.Cursor).
		Int("total", s.Total).
		Bool("loading", s.Loading()).
		Msg("Observing sentinel")

	bound := s
	if err := observer.Observe(func(e visibility.Entry) {
		t.onEntry(observer, bound, e)
	}); err != nil {
		if errors.Is(err, visibility.ErrDisconnected) {
			// Replaced by a newer snapshot or closed before it started.
			return
		}
		t.logger.Error().Err(err).Msg("Failed to observe sentinel")
		t.mu.Lock()
		if t.observer == observer {
			t.observer = nil
		}
		t.mu.Unlock()
	}
}

func (t *Trigger) onEntry(observer visibility.Observer, bound pagination.Snapshot, e visibility.Entry) {
	t.mu.Lock()
	current := !t.closed && t.observer == observer
	t.mu.Unlock()

	if !current || !e.IsIntersecting || bound.Loading() || !bound.HasMore() {
		return
	}

	feedTriggerAdvancesTotal.Inc()
	t.logger.Debug().
		Float64("ratio", e.Ratio).
		Int("cursor", bound.Cursor).
		Msg("Sentinel visible, advancing")

	t.pager.Advance()
}
