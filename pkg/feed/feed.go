// Package feed is the scroll-triggered record feed component.
//
// A Feed fetches the full record list once when mounted, reveals it in
// batches through a pagination.Paginator and advances whenever its sentinel
// region becomes visible. Unmount releases everything; results that arrive
// afterwards are dropped.
package feed

import (
	"context"
	"sync"

	"github.com/Sternrassler/scrollfeed/pkg/clock"
	"github.com/Sternrassler/scrollfeed/pkg/pagination"
	"github.com/Sternrassler/scrollfeed/pkg/record"
	"github.com/Sternrassler/scrollfeed/pkg/visibility"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Fetcher retrieves the full record list.
type Fetcher interface {
	Fetch(ctx context.Context) ([]record.Record, error)
}

// Option configures a Feed.
type Option func(*options)

type options struct {
	clock     clock.Clock
	logger    *zerolog.Logger
	threshold float64
}

// WithClock sets the clock that schedules reveal delays.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

// WithThreshold overrides VisibilityThreshold.
func WithThreshold(threshold float64) Option {
	return func(o *options) {
		o.threshold = threshold
	}
}

// Feed is one mounted instance of the component.
type Feed struct {
	fetcher  Fetcher
	pager    *pagination.Paginator
	sentinel *visibility.Sentinel
	trigger  *Trigger
	logger   zerolog.Logger

	mu        sync.Mutex
	mounted   bool
	unmounted bool
	cancel    context.CancelFunc
	loaded    chan struct{}
}

// New creates an unmounted feed.
func New(fetcher Fetcher, opts ...Option) *Feed {
	o := options{
		clock:     clock.Real(),
		threshold: VisibilityThreshold,
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := log.With().Str("component", "feed").Logger()
	if o.logger != nil {
		logger = *o.logger
	}

	pager := pagination.New(pagination.Config{Clock: o.clock})
	sentinel := visibility.NewSentinel()

	return &Feed{
		fetcher:  fetcher,
		pager:    pager,
		sentinel: sentinel,
		trigger:  NewTrigger(pager, sentinel, o.threshold, logger),
		logger:   logger,
		loaded:   make(chan struct{}),
	}
}

// Mount starts observing the sentinel and launches the single fetch.
// It returns immediately; ctx bounds the fetch. Mount is idempotent and a
// no-op after Unmount.
func (f *Feed) Mount(ctx context.Context) {
	f.mu.Lock()
	if f.mounted || f.unmounted {
		f.mu.Unlock()
		return
	}
	f.mounted = true
	fetchCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.mu.Unlock()

	f.trigger.Start()
	go f.load(fetchCtx)
}

func (f *Feed) load(ctx context.Context) {
	defer close(f.loaded)

	records, err := f.fetcher.Fetch(ctx)
	if err != nil {
		if f.isUnmounted() {
			f.logger.Debug().Err(err).Msg("Initial fetch ended after unmount")
			return
		}
		f.logger.Error().Err(err).Msg("Initial fetch failed")
		if ferr := f.pager.Fail(err); ferr != nil {
			f.logger.Debug().Err(ferr).Msg("Fetch failure dropped")
		}
		return
	}

	if lerr := f.pager.Load(records); lerr != nil {
		f.logger.Debug().Err(lerr).Int("records", len(records)).Msg("Fetch result dropped")
		return
	}

	f.logger.Info().
		Int("total", len(records)).
		Int("cursor", min(pagination.BatchSize, len(records))).
		Msg("Feed loaded")
}

// Unmount cancels an in-flight fetch, disconnects the sentinel observer and
// disposes the paginator. It is idempotent.
func (f *Feed) Unmount() {
	f.mu.Lock()
	if f.unmounted {
		f.mu.Unlock()
		return
	}
	f.unmounted = true
	cancel := f.cancel
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	f.trigger.Close()
	f.pager.Dispose()

	f.logger.Debug().Msg("Feed unmounted")
}

func (f *Feed) isUnmounted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unmounted
}

// Loaded is closed once the initial fetch has resolved, successfully or not.
func (f *Feed) Loaded() <-chan struct{} {
	return f.loaded
}

// Sentinel returns the region whose visibility the host reports.
func (f *Feed) Sentinel() *visibility.Sentinel {
	return f.sentinel
}

// Snapshot returns the current pagination state.
func (f *Feed) Snapshot() pagination.Snapshot {
	return f.pager.Snapshot()
}

// Subscribe registers fn for pagination changes.
func (f *Feed) Subscribe(fn func(pagination.Snapshot)) (unsubscribe func()) {
	return f.pager.Subscribe(fn)
}

// Advance requests the next batch directly, bypassing the sentinel.
func (f *Feed) Advance() bool {
	return f.pager.Advance()
}
