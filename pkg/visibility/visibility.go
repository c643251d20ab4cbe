// Package visibility models "notify me when region R's visibility crosses
// threshold T" independently of any rendering toolkit.
//
// A Sentinel is a region whose intersection ratio with the viewport is
// reported by the host (a browser script, a terminal pager, a test). Observers
// created on the sentinel receive the current state when they start observing
// (once the sentinel has been reported) and an entry whenever the ratio
// crosses their threshold.
package visibility

import (
	"errors"
	"math"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrAlreadyObserving is returned by a second Observe on the same observer.
var ErrAlreadyObserving = errors.New("observer already has a callback")

// ErrDisconnected is returned by Observe after Disconnect.
var ErrDisconnected = errors.New("observer disconnected")

var (
	feedSentinelReportsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_sentinel_reports_total",
		Help: "Total sentinel visibility reports",
	})

	feedSentinelEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_sentinel_entries_total",
		Help: "Total entries delivered to observers by intersection",
	}, []string{"intersecting"})
)

// Entry describes the sentinel's visibility at a report.
type Entry struct {
	// Ratio is the visible fraction of the sentinel, in [0, 1].
	Ratio float64

	// IsIntersecting is true when Ratio reaches the observer's threshold.
	IsIntersecting bool
}

// Observer watches one region. It accepts exactly one callback and is
// released with Disconnect.
type Observer interface {
	// Observe registers the callback.
	Observe(cb func(Entry)) error

	// Disconnect stops delivery. It is idempotent.
	Disconnect()
}

// Sentinel is an observable region fed by host reports.
type Sentinel struct {
	mu        sync.Mutex
	observers map[*sentinelObserver]struct{}
	lastRatio float64
	reported  bool
}

// NewSentinel creates a sentinel that has not been reported yet.
func NewSentinel() *Sentinel {
	return &Sentinel{
		observers: make(map[*sentinelObserver]struct{}),
	}
}

// NewObserver creates an observer on the sentinel with the given threshold.
// The threshold is clamped to [0, 1].
func (s *Sentinel) NewObserver(threshold float64) Observer {
	return &sentinelObserver{
		sentinel:  s,
		threshold: clamp(threshold),
	}
}

// Report publishes the sentinel's current intersection ratio.
// The ratio is clamped to [0, 1]. Callbacks run on the caller's goroutine
// after the sentinel lock is released.
func (s *Sentinel) Report(ratio float64) {
	ratio = clamp(ratio)
	feedSentinelReportsTotal.Inc()

	s.mu.Lock()
	s.lastRatio = ratio
	s.reported = true

	type delivery struct {
		o     *sentinelObserver
		entry Entry
	}
	var deliveries []delivery
	for o := range s.observers {
		intersecting := o.intersects(ratio)
		if o.delivered && intersecting == o.lastIntersecting {
			continue
		}
		o.delivered = true
		o.lastIntersecting = intersecting
		deliveries = append(deliveries, delivery{
			o:     o,
			entry: Entry{Ratio: ratio, IsIntersecting: intersecting},
		})
	}
	s.mu.Unlock()

	for _, d := range deliveries {
		// An earlier callback in this report may have disconnected it.
		d.o.deliver(d.entry)
	}
}

// LastRatio returns the most recent reported ratio and whether any report
// has been made.
func (s *Sentinel) LastRatio() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRatio, s.reported
}

// ObserverCount returns the number of connected observers.
func (s *Sentinel) ObserverCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

type sentinelObserver struct {
	sentinel  *Sentinel
	threshold float64

	// Guarded by sentinel.mu.
	cb               func(Entry)
	disconnected     bool
	delivered        bool
	lastIntersecting bool
}

// Observe registers cb. When the sentinel has been reported before, cb
// receives an entry for the current ratio right away, on the caller's
// goroutine and outside the sentinel lock.
func (o *sentinelObserver) Observe(cb func(Entry)) error {
	if cb == nil {
		return errors.New("observer callback is nil")
	}

	s := o.sentinel
	s.mu.Lock()
	if o.disconnected {
		s.mu.Unlock()
		return ErrDisconnected
	}
	if o.cb != nil {
		s.mu.Unlock()
		return ErrAlreadyObserving
	}
	o.cb = cb
	s.observers[o] = struct{}{}

	var initial *Entry
	if s.reported {
		intersecting := o.intersects(s.lastRatio)
		o.delivered = true
		o.lastIntersecting = intersecting
		initial = &Entry{Ratio: s.lastRatio, IsIntersecting: intersecting}
	}
	s.mu.Unlock()

	if initial != nil {
		o.deliver(*initial)
	}
	return nil
}

// deliver invokes the callback unless the observer was disconnected meanwhile.
func (o *sentinelObserver) deliver(e Entry) {
	s := o.sentinel
	s.mu.Lock()
	cb, live := o.cb, !o.disconnected
	s.mu.Unlock()
	if !live {
		return
	}

	feedSentinelEntriesTotal.WithLabelValues(strconv.FormatBool(e.IsIntersecting)).Inc()
	cb(e)
}

func (o *sentinelObserver) Disconnect() {
	s := o.sentinel
	s.mu.Lock()
	defer s.mu.Unlock()

	o.disconnected = true
	delete(s.observers, o)
}

func (o *sentinelObserver) intersects(ratio float64) bool {
	if o.threshold == 0 {
		return ratio > 0
	}
	return ratio >= o.threshold
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

