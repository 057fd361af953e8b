package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// RollbackSuccess labels rollbacks that restored every file.
	RollbackSuccess = "success"
	// RollbackError labels rollbacks that left files unrestored.
	RollbackError = "error"
)

const namespace = "mirador_selfheal"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of coordinator runs, partitioned by terminal status.",
		},
		[]string{"status"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_seconds",
			Help:      "Coordinator run latency in seconds, including validation cooldowns.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 180, 300, 600, 1200},
		},
	)

	issuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_total",
			Help:      "Priority issues processed, partitioned by issue type and terminal state.",
		},
		[]string{"issue_type", "state"},
	)

	fixApplicationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fix_applications_total",
			Help:      "Fix plans passed to apply, partitioned by fix type and status.",
		},
		[]string{"fix_type", "status"},
	)

	validationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Post-apply validations, partitioned by status.",
		},
		[]string{"status"},
	)

	rollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Backup rollbacks, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches mirador-selfheal collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		issuesTotal,
		fixApplicationsTotal,
		validationsTotal,
		rollbacksTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a run duration and terminal status.
func ObserveRun(duration time.Duration, status string) {
	runsTotal.WithLabelValues(status).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveIssue counts one processed issue.
func ObserveIssue(issueType, state string) {
	issuesTotal.WithLabelValues(issueType, state).Inc()
}

// ObserveApply counts one apply call.
func ObserveApply(fixType, status string) {
	fixApplicationsTotal.WithLabelValues(fixType, status).Inc()
}

// ObserveValidation counts one validation verdict.
func ObserveValidation(status string) {
	validationsTotal.WithLabelValues(status).Inc()
}

// ObserveRollback counts one rollback attempt.
func ObserveRollback(ok bool) {
	label := RollbackSuccess
	if !ok {
		label = RollbackError
	}
	rollbacksTotal.WithLabelValues(label).Inc()
}
