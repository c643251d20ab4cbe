package server

import (
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/scrollfeed/pkg/feed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrSessionLimit is returned when MaxSessions feeds are already mounted.
	ErrSessionLimit = errors.New("session limit reached")

	// ErrServerClosed is returned for sessions requested after Close.
	ErrServerClosed = errors.New("server closed")
)

// Prometheus metrics for host sessions
var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feed_sessions_active",
		Help: "Mounted feeds",
	})

	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_sessions_created_total",
		Help: "Sessions created",
	})

	sessionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_sessions_rejected_total",
		Help: "Sessions refused at the session limit",
	})

	sessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_sessions_expired_total",
		Help: "Sessions unmounted by the idle reaper",
	})
)

// session is one mounted feed owned by a browser page.
type session struct {
	id       string
	feed     *feed.Feed
	created  time.Time
	lastSeen time.Time // guarded by registry.mu
}

// registry tracks mounted sessions. It never unmounts; callers do that
// outside the lock with the sessions it hands back.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*session
	max      int
	closed   bool
}

func newRegistry(limit int) *registry {
	return &registry{
		sessions: make(map[string]*session),
		max:      limit,
	}
}

func (r *registry) add(s *session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrServerClosed
	}
	if len(r.sessions) >= r.max {
		sessionsRejected.Inc()
		return ErrSessionLimit
	}
	r.sessions[s.id] = s
	sessionsCreated.Inc()
	sessionsActive.Set(float64(len(r.sessions)))
	return nil
}

// get returns the session and marks it as seen at now.
func (r *registry) get(id string, now time.Time) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if ok {
		s.lastSeen = now
	}
	return s, ok
}

func (r *registry) remove(id string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		sessionsActive.Set(float64(len(r.sessions)))
	}
	return s, ok
}

// expired removes and returns sessions not seen since now-ttl.
func (r *registry) expired(now time.Time, ttl time.Duration) []*session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*session
	for id, s := range r.sessions {
		if now.Sub(s.lastSeen) >= ttl {
			delete(r.sessions, id)
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		sessionsExpired.Add(float64(len(out)))
		sessionsActive.Set(float64(len(r.sessions)))
	}
	return out
}

// drain removes and returns every session and refuses further adds.
func (r *registry) drain() []*session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	clear(r.sessions)
	sessionsActive.Set(0)
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
