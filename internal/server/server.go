// Package server hosts feeds for browser pages over HTTP.
//
// Every page load mounts its own feed in a session. The page reports the
// sentinel's intersection ratio back and polls the rendered fragment; the
// feed itself runs server-side exactly as it would in-process.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/scrollfeed/pkg/clock"
	"github.com/Sternrassler/scrollfeed/pkg/feed"
	"github.com/Sternrassler/scrollfeed/pkg/metrics"
	"github.com/Sternrassler/scrollfeed/pkg/view"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxVisibilityBody = 1 << 10

// Config holds server configuration.
type Config struct {
	// MaxSessions caps concurrently mounted feeds.
	MaxSessions int

	// SessionIdleTTL unmounts sessions not touched for this long.
	SessionIdleTTL time.Duration

	// Threshold is the sentinel visibility ratio that advances a feed.
	Threshold float64

	// Clock schedules reveal delays (default: real time).
	Clock clock.Clock
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() Config {
	return Config{
		MaxSessions:    1000,
		SessionIdleTTL: 15 * time.Minute,
		Threshold:      feed.VisibilityThreshold,
		Clock:          clock.Real(),
	}
}

// Server owns the session registry and serves the host API.
type Server struct {
	cfg      Config
	fetcher  feed.Fetcher
	sessions *registry
	logger   zerolog.Logger
	now      func() time.Time

	// ctx bounds every feed's fetch; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a server whose sessions fetch through fetcher.
func New(fetcher feed.Fetcher, cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		fetcher:  fetcher,
		sessions: newRegistry(cfg.MaxSessions),
		logger:   log.With().Str("component", "server").Logger(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to write health check response")
		}
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Get("/fragment", s.handleFragment)
			r.Post("/visibility", s.handleVisibility)
		})
	})

	return r
}

// CreateSession mounts a new feed and returns its session id.
func (s *Server) CreateSession() (string, error) {
	id := uuid.NewString()
	logger := s.logger.With().Str("session_id", id).Logger()
	now := s.now()

	sess := &session{
		id: id,
		feed: feed.New(s.fetcher,
			feed.WithClock(s.cfg.Clock),
			feed.WithLogger(logger),
			feed.WithThreshold(s.cfg.Threshold),
		),
		created:  now,
		lastSeen: now,
	}
	if err := s.sessions.add(sess); err != nil {
		if errors.Is(err, ErrSessionLimit) {
			logger.Warn().Int("max_sessions", s.cfg.MaxSessions).Msg("Session limit reached")
		}
		return "", err
	}

	sess.feed.Mount(s.ctx)
	logger.Info().Msg("Session created")
	return id, nil
}

// CloseSession unmounts the session. Unknown ids are ignored.
func (s *Server) CloseSession(id string) bool {
	sess, ok := s.sessions.remove(id)
	if !ok {
		return false
	}
	sess.feed.Unmount()
	s.logger.Info().Str("session_id", id).Dur("age", s.now().Sub(sess.created)).Msg("Session closed")
	return true
}

// SessionCount returns the number of mounted feeds.
func (s *Server) SessionCount() int {
	return s.sessions.len()
}

// ReapIdle unmounts sessions idle for at least SessionIdleTTL and returns how many.
func (s *Server) ReapIdle() int {
	expired := s.sessions.expired(s.now(), s.cfg.SessionIdleTTL)
	for _, sess := range expired {
		sess.feed.Unmount()
		s.logger.Debug().Str("session_id", sess.id).Msg("Idle session expired")
	}
	return len(expired)
}

// StartReaper runs ReapIdle periodically until Close.
func (s *Server) StartReaper() {
	interval := max(s.cfg.SessionIdleTTL/2, time.Second)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if n := s.ReapIdle(); n > 0 {
					s.logger.Info().Int("expired", n).Int("active", s.SessionCount()).Msg("Reaped idle sessions")
				}
			}
		}
	}()
}

// Close unmounts every session, refuses new ones and stops the reaper.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		drained := s.sessions.drain()
		for _, sess := range drained {
			sess.feed.Unmount()
		}
		s.cancel()
		s.wg.Wait()
		s.logger.Info().Int("sessions", len(drained)).Msg("Server sessions closed")
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, ok := s.sessions.get(chi.URLParam(r, "id"), s.now())
	if !ok {
		respondError(w, r, http.StatusNotFound, "session not found")
	}
	return sess, ok
}

func (s *Server) createOrFail(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := s.CreateSession()
	if err != nil {
		respondError(w, r, http.StatusServiceUnavailable, err.Error())
		return "", false
	}
	return id, true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	id, ok := s.createOrFail(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := view.RenderPage(w, id, s.cfg.Threshold); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("session_id", id).Msg("Failed to render page")
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.createOrFail(w, r)
	if !ok {
		return
	}
	respondJSON(w, r, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, r, http.StatusOK, view.FromSnapshot(sess.feed.Snapshot()))
}

func (s *Server) handleFragment(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := view.Render(w, view.FromSnapshot(sess.feed.Snapshot())); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("session_id", sess.id).Msg("Failed to render fragment")
	}
}

// visibilityRequest is one sentinel intersection report.
type visibilityRequest struct {
	Ratio *float64 `json:"ratio" validate:"required,gte=0,lte=1"`
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req visibilityRequest
	if err := decodeJSON(w, r, maxVisibilityBody, &req); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("session_id", sess.id).Msg("Malformed visibility report")
		respondError(w, r, http.StatusBadRequest, "ratio must be a number between 0 and 1")
		return
	}

	sess.feed.Sentinel().Report(*req.Ratio)
	respondJSON(w, r, http.StatusAccepted, view.FromSnapshot(sess.feed.Snapshot()))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.CloseSession(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}
