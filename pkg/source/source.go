// Package source fetches the full record list from the upstream JSON endpoint.
//
// A Source performs exactly one GET per Fetch call. There is no retry,
// no caching and no query string; pagination happens entirely on the client.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/scrollfeed/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultURL is the upstream posts collection.
const DefaultURL = "https://jsonplaceholder.typicode.com/posts"

// Prometheus metrics for upstream fetches.
var (
	feedSourceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_source_requests_total",
		Help: "Total upstream record list requests by status",
	}, []string{"status"})

	feedSourceRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feed_source_request_duration_seconds",
		Help:    "Upstream record list request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	feedSourceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_source_errors_total",
		Help: "Total upstream fetch errors by class",
	}, []string{"class"})

	feedSourceRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_source_records_total",
		Help: "Total records received from upstream",
	})
)

// Config holds the source configuration.
type Config struct {
	// URL of the JSON array endpoint.
	URL string

	// User-Agent header sent upstream.
	UserAgent string

	// Timeout bounds the whole request, body included.
	Timeout time.Duration

	// MaxBodyBytes caps the response body; larger bodies are a decode error.
	MaxBodyBytes int64
}

// DefaultConfig returns a configuration pointing at DefaultURL.
func DefaultConfig() Config {
	return Config{
		URL:          DefaultURL,
		UserAgent:    "scrollfeed/0.1.0",
		Timeout:      30 * time.Second,
		MaxBodyBytes: 10 << 20,
	}
}

// Source is the upstream data source adapter.
type Source struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new Source.
func New(cfg Config) (*Source, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("source url is required")
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("source url must be http or https (got %q)", u.Scheme)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}

	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: log.With().Str("component", "feed-source").Logger(),
	}, nil
}

// Fetch retrieves and decodes the full record list.
// Errors are returned as *FetchError.
func (s *Source) Fetch(ctx context.Context) ([]record.Record, error) {
	endpoint := s.config.URL

	startTime := time.Now()
	defer func() {
		feedSourceRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, s.fail(&FetchError{
			ErrorClass: ErrorClassNetwork,
			Message:    "create request",
			Err:        err,
		}, "request_error")
	}

	req.Header.Set("Accept", "application/json")
	if s.config.UserAgent != "" {
		req.Header.Set("User-Agent", s.config.UserAgent)
	}

	s.logger.Debug().
		Str("endpoint", endpoint).
		Msg("Fetching record list")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, s.fail(&FetchError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}, "network_error")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, s.fail(&FetchError{
			StatusCode: resp.StatusCode,
			ErrorClass: classifyStatus(resp.StatusCode),
			Message:    resp.Status,
		}, strconv.Itoa(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxBodyBytes+1))
	if err != nil {
		return nil, s.fail(&FetchError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}, "network_error")
	}
	if int64(len(body)) > s.config.MaxBodyBytes {
		return nil, s.fail(&FetchError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    fmt.Sprintf("response body exceeds %d bytes", s.config.MaxBodyBytes),
			Err:        ErrBodyTooLarge,
		}, "decode_error")
	}

	records, err := record.DecodeList(body)
	if err != nil {
		return nil, s.fail(&FetchError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "decode response body",
			Err:        err,
		}, "decode_error")
	}

	feedSourceRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	feedSourceRecordsTotal.Add(float64(len(records)))

	s.logger.Info().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Int("records", len(records)).
		Dur("duration", time.Since(startTime)).
		Msg("Record list fetched")

	return records, nil
}

// fail records metrics and logs for a failed fetch.
func (s *Source) fail(ferr *FetchError, status string) error {
	if ferr.ErrorClass == ErrorClassNetwork && errors.Is(ferr.Err, context.Canceled) {
		status = "cancelled"
	}

	feedSourceErrorsTotal.WithLabelValues(string(ferr.ErrorClass)).Inc()
	feedSourceRequestsTotal.WithLabelValues(status).Inc()

	s.logger.Warn().
		Err(ferr).
		Str("endpoint", s.config.URL).
		Int("status", ferr.StatusCode).
		Str("error_class", string(ferr.ErrorClass)).
		Msg("Record list fetch failed")

	return ferr
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (s *Source) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}

// URL returns the configured endpoint.
func (s *Source) URL() string {
	return s.config.URL
}
