package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequests counts API requests by endpoint template and status.
	// Status is "network_error" when no response arrived.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forumclient_api_requests_total",
		Help: "Total number of API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	// APIRequestDuration records API request latency by endpoint template.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forumclient_api_request_duration_seconds",
		Help:    "API request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// SessionTransitions counts session state machine transitions.
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forumclient_session_transitions_total",
		Help: "Total number of session state transitions",
	}, []string{"from", "to"})

	// OptimisticRollbacks counts optimistic updates reverted after a failed request.
	OptimisticRollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forumclient_optimistic_rollbacks_total",
		Help: "Total number of optimistic updates rolled back",
	}, []string{"action"})

	// StorageErrors counts durable storage failures by driver and operation.
	StorageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forumclient_storage_errors_total",
		Help: "Total number of local storage errors",
	}, []string{"driver", "operation"})
)

// WriteMetricsTextfile dumps the default registry in the node-exporter
// textfile format. An empty path is a no-op.
func WriteMetricsTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
