package pagination

import (
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/scrollfeed/pkg/clock"
	"github.com/Sternrassler/scrollfeed/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

const (
	// BatchSize is the number of records revealed per step.
	BatchSize = 5

	// RevealDelay is the artificial latency before a batch is revealed.
	RevealDelay = 500 * time.Millisecond
)

var (
	// ErrAlreadyLoaded is returned when Load or Fail is applied twice.
	ErrAlreadyLoaded = errors.New("record set already loaded")

	// ErrDisposed is returned when Load or Fail is applied after Dispose.
	ErrDisposed = errors.New("paginator disposed")
)

// Prometheus metrics for batch reveals.
var (
	feedBatchesRevealedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_batches_revealed_total",
		Help: "Total batches revealed, initial seed included",
	})

	feedRecordsRevealedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_records_revealed_total",
		Help: "Total records revealed",
	})

	feedAdvanceIgnoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_advance_ignored_total",
		Help: "Advance calls that were no-ops by reason",
	}, []string{"reason"})

	feedRevealsDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_reveals_discarded_total",
		Help: "Delayed reveals dropped because the paginator was disposed",
	})
)

// Config holds paginator configuration.
type Config struct {
	// Clock schedules the reveal delay.
	Clock clock.Clock
}

// DefaultConfig returns a configuration using the wall clock.
func DefaultConfig() Config {
	return Config{
		Clock: clock.Real(),
	}
}

// Paginator owns the full record set and reveals it in batches.
type Paginator struct {
	clock clock.Clock

	mu             sync.Mutex
	full           []record.Record
	cursor         int
	state          State
	initialLoading bool
	err            error
	disposed       bool
	version        uint64
	advanceSeq     uint64
	pending        clock.Timer

	nextSubID   int
	subscribers map[int]func(Snapshot)
}

// New creates a paginator in the Idle state, waiting for its record set.
func New(cfg Config) *Paginator {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	return &Paginator{
		clock:          cfg.Clock,
		state:          StateIdle,
		initialLoading: true,
		subscribers:    make(map[int]func(Snapshot)),
	}
}

// Load stores the full record set and seeds the first batch.
// Seeding is synchronous and not gated by the Loading state.
func (p *Paginator) Load(records []record.Record) error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return ErrDisposed
	}
	if !p.initialLoading {
		p.mu.Unlock()
		return ErrAlreadyLoaded
	}

	p.full = append([]record.Record(nil), records...)
	p.cursor = min(BatchSize, len(p.full))
	p.initialLoading = false
	if p.cursor < len(p.full) {
		p.state = StateIdle
	} else {
		p.state = StateExhausted
	}

	if p.cursor > 0 {
		feedBatchesRevealedTotal.Inc()
		feedRecordsRevealedTotal.Add(float64(p.cursor))
	}

	log.Debug().
		Int("total", len(p.full)).
		Int("cursor", p.cursor).
		Str("state", p.state.String()).
		Msg("Record set loaded")

	p.commitLocked()
	return nil
}

// Fail records that the record set could not be fetched.
// The paginator ends in the Failed state with an empty record set.
func (p *Paginator) Fail(err error) error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return ErrDisposed
	}
	if !p.initialLoading {
		p.mu.Unlock()
		return ErrAlreadyLoaded
	}

	p.initialLoading = false
	p.state = StateFailed
	p.err = err

	p.commitLocked()
	return nil
}

// Advance requests the next batch. It reports whether a reveal was scheduled.
// Calls while Loading, after the last batch, before the record set arrived,
// after a failed load or after Dispose are no-ops.
func (p *Paginator) Advance() bool {
	p.mu.Lock()

	if reason := p.ignoreReasonLocked(); reason != "" {
		cursor := p.cursor
		p.mu.Unlock()
		feedAdvanceIgnoredTotal.WithLabelValues(reason).Inc()
		log.Debug().
			Str("reason", reason).
			Int("cursor", cursor).
			Msg("Advance ignored")
		return false
	}

	p.state = StateLoading
	p.advanceSeq++
	seq := p.advanceSeq
	p.pending = p.clock.AfterFunc(RevealDelay, func() {
		p.reveal(seq)
	})

	log.Debug().
		Int("cursor", p.cursor).
		Int("total", len(p.full)).
		Msg("Batch reveal scheduled")

	p.commitLocked()
	return true
}

func (p *Paginator) ignoreReasonLocked() string {
	switch {
	case p.disposed:
		return "disposed"
	case p.state == StateLoading:
		return "loading"
	case p.state == StateFailed:
		return "failed"
	case p.cursor >= len(p.full):
		return "exhausted"
	default:
		return ""
	}
}

// reveal is the delayed continuation of Advance.
func (p *Paginator) reveal(seq uint64) {
	p.mu.Lock()
	if p.disposed || seq != p.advanceSeq || p.state != StateLoading {
		p.mu.Unlock()
		feedRevealsDiscardedTotal.Inc()
		return
	}

	end := min(p.cursor+BatchSize, len(p.full))
	revealed := end - p.cursor
	p.cursor = end
	p.pending = nil
	if p.cursor < len(p.full) {
		p.state = StateIdle
	} else {
		p.state = StateExhausted
	}

	feedBatchesRevealedTotal.Inc()
	feedRecordsRevealedTotal.Add(float64(revealed))

	log.Debug().
		Int("revealed", revealed).
		Int("cursor", p.cursor).
		Int("total", len(p.full)).
		Str("state", p.state.String()).
		Msg("Batch revealed")

	p.commitLocked()
}

// Dispose tears the paginator down. A pending reveal is cancelled, and one
// that already fired becomes a no-op. Dispose is idempotent.
func (p *Paginator) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return
	}
	p.disposed = true
	if p.pending != nil {
		if p.pending.Stop() {
			feedRevealsDiscardedTotal.Inc()
		}
		p.pending = nil
	}
	clear(p.subscribers)
}

// Snapshot returns a consistent view of the paginator.
func (p *Paginator) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every change.
// Notifications are delivered outside the paginator lock, so fn may call
// back into the paginator. The returned function removes the subscription.
func (p *Paginator) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return func() {}
	}

	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subscribers, id)
			p.mu.Unlock()
		})
	}
}

// commitLocked bumps the version and notifies subscribers. It must be
// called with p.mu held and releases it.
func (p *Paginator) commitLocked() {
	p.version++
	snap := p.snapshotLocked()

	subs := make([]func(Snapshot), 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (p *Paginator) snapshotLocked() Snapshot {
	return Snapshot{
		State:          p.state,
		Revealed:       p.full[:p.cursor:p.cursor],
		Cursor:         p.cursor,
		Total:          len(p.full),
		InitialLoading: p.initialLoading,
		Err:            p.err,
		Version:        p.version,
	}
}
