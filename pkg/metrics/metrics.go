// Package metrics provides the centralized Prometheus registry reference for
// the harvester. All metrics are defined in their respective packages
// (client, segment, harvest) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - winnow_requests_total{status} (Counter): Total requests by HTTP status
//   - winnow_request_duration_seconds (Histogram): Request duration
//   - winnow_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, truncated)
//
// Retry Metrics (pkg/client):
//   - winnow_retries_total{error_class} (Counter): Retry attempts by error class
//   - winnow_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - winnow_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Planning Metrics (pkg/segment):
//   - winnow_segments_planned_total (Counter): Segments emitted by the planner
//   - winnow_segments_capped_total (Counter): Segments capped at the window limit
//
// Harvest Metrics (pkg/harvest):
//   - winnow_records_harvested_total{collection} (Counter): Records written by collection
//   - winnow_pages_fetched_total{collection, mode} (Counter): Pages fetched by collection and mode
//   - winnow_capacity_warnings_total (Counter): Capacity warnings recorded
//   - winnow_harvest_runs_total{status} (Counter): Runs by outcome (completed, partial, failed)
//
// Example Prometheus Queries:
//
//   # Harvest throughput
//   rate(winnow_records_harvested_total[5m])
//
//   # Request error rate
//   rate(winnow_errors_total[5m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(winnow_request_duration_seconds_bucket[5m]))
//
//   # Runs that needed segmentation capping
//   increase(winnow_segments_capped_total[1h])
