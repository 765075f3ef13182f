package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(contentStoreRequests, contentStoreConflicts) }

var (
	contentStoreRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_store_requests_total",
			Help: "GitHub content API calls by operation and result.",
		},
		[]string{"op", "result"},
	)

	contentStoreConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "content_store_conflicts_total",
			Help: "Create conflicts resolved by re-fetch and update.",
		},
	)
)

func IncContentRequest(op, result string) {
	contentStoreRequests.WithLabelValues(norm(op), norm(result)).Inc()
}

func IncContentConflict() { contentStoreConflicts.Inc() }
