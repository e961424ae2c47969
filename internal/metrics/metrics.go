// Package metrics registers the gateway's Prometheus series, following
// the teacher's api/metrics.NewMetrics(namespace, registerer) shape.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of series the Coordinator and its pipelines update.
type Metrics struct {
	JobsCreated      prometheus.Counter
	JobsSucceeded    prometheus.Counter
	JobsFailed       prometheus.Counter
	ActiveJobs       prometheus.Gauge
	PollDuration     prometheus.Histogram
	QueueDepth       prometheus.Gauge
	ClaimSucceeded   prometheus.Counter
	ClaimFailed      prometheus.Counter
	RecoveryAttempts prometheus.Counter
}

// New constructs and registers every series under namespace.
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		JobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_created_total", Help: "Proof jobs created.",
		}),
		JobsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_succeeded_total", Help: "Proof jobs that reached succeeded.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_failed_total", Help: "Proof jobs that reached failed.",
		}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_jobs", Help: "1 if a job currently holds the active slot, else 0.",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "poll_duration_seconds", Help: "Wall-clock time spent in a single alarm poll invocation.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "proof_queue_depth", Help: "Pending messages on the proof queue.",
		}),
		ClaimSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "claims_succeeded_total", Help: "Claims relayed successfully on-chain.",
		}),
		ClaimFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "claims_failed_total", Help: "Claims that reached terminal failure.",
		}),
		RecoveryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "prover_recovery_attempts_total", Help: "Prover-loss recovery re-submissions.",
		}),
	}

	collectors := []prometheus.Collector{
		m.JobsCreated, m.JobsSucceeded, m.JobsFailed, m.ActiveJobs,
		m.PollDuration, m.QueueDepth, m.ClaimSucceeded, m.ClaimFailed,
		m.RecoveryAttempts,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
