// Package metrics provides the Prometheus registry and scrape handler for the feed.
// All metrics are defined in their respective packages (source, pagination,
// visibility, feed, server) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the feed.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry scraped by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler serving the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Source Metrics (pkg/source):
//   - feed_source_requests_total{status} (Counter): Upstream requests by HTTP status
//   - feed_source_request_duration_seconds (Histogram): Upstream request duration
//   - feed_source_errors_total{class} (Counter): Fetch errors by class (client, server, network, decode)
//   - feed_source_records_total (Counter): Records decoded from upstream
//
// Pagination Metrics (pkg/pagination):
//   - feed_batches_revealed_total (Counter): Batches appended to the revealed prefix
//   - feed_records_revealed_total (Counter): Records appended to the revealed prefix
//   - feed_advance_ignored_total{reason} (Counter): Advance calls that did nothing (loading, exhausted, failed, disposed)
//   - feed_reveals_discarded_total (Counter): Scheduled reveals dropped after dispose
//
// Visibility Metrics (pkg/visibility):
//   - feed_sentinel_reports_total (Counter): Intersection ratios reported by hosts
//   - feed_sentinel_entries_total{intersecting} (Counter): Entries delivered to observers
//
// Trigger Metrics (pkg/feed):
//   - feed_trigger_observes_total (Counter): Observers attached to the sentinel
//   - feed_trigger_advances_total (Counter): Advances requested by the sentinel
//
// Session Metrics (internal/server):
//   - feed_sessions_active (Gauge): Mounted feeds
//   - feed_sessions_created_total (Counter): Sessions created
//   - feed_sessions_rejected_total (Counter): Sessions refused at the session limit
//   - feed_sessions_expired_total (Counter): Sessions unmounted by the idle reaper
//
// Example Prometheus Queries:
//
//   # Upstream Error Rate
//   rate(feed_source_errors_total[5m])
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(feed_source_request_duration_seconds_bucket[5m]))
//
//   # Average Batches per Session
//   sum(rate(feed_batches_revealed_total[1h])) / sum(rate(feed_sessions_created_total[1h]))
//
//   # Share of Sentinel Reports Ignored While Loading
//   rate(feed_advance_ignored_total{reason="loading"}[5m]) / rate(feed_sentinel_reports_total[5m])
