package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsSubmittedTotal, jobsProcessedTotal, jobsRecoveredTotal) }

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idea_jobs_submitted_total",
			Help: "Jobs accepted at submission, labeled by mode.",
		},
		[]string{"mode"},
	)

	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idea_jobs_processed_total",
			Help: "Total number of idea jobs processed, labeled by status.",
		},
		[]string{"status"}, // 'completed', 'failed'
	)

	jobsRecoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "idea_jobs_recovered_total",
			Help: "Jobs re-dispatched by the recovery worker.",
		},
	)
)

func IncJobSubmitted(mode string) { jobsSubmittedTotal.WithLabelValues(norm(mode)).Inc() }

func IncJobProcessed(status string) { jobsProcessedTotal.WithLabelValues(norm(status)).Inc() }

func AddJobsRecovered(n int) { jobsRecoveredTotal.Add(float64(n)) }
