// pkg/monitoring/metrics.go
package monitoring

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RolloutsTotal       *prometheus.CounterVec
	StageEvalDuration   *prometheus.HistogramVec
	TriggerPolls        *prometheus.CounterVec
	TriggerViolations   *prometheus.CounterVec
	TriggerTrips        *prometheus.CounterVec
	RollbacksTotal      *prometheus.CounterVec
	RollbackDuration    *prometheus.HistogramVec
	RollbackStepRetries *prometheus.CounterVec
	MetricsFetchErrors  *prometheus.CounterVec
	FlagEvaluations     *prometheus.CounterVec
	EventsDropped       prometheus.Counter
}

var (
	metrics *Metrics
	once    sync.Once
)

// NewMetrics returns the process-wide metrics set. Collectors register with
// the default registry exactly once; repeated calls return the same set.
func NewMetrics() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			RolloutsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "releasegate_rollouts_total",
					Help: "Rollout state transitions by outcome",
				},
				[]string{"outcome"},
			),
			StageEvalDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "releasegate_stage_eval_duration_seconds",
					Help:    "Time taken to evaluate a rollout stage's criteria",
					Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
				},
				[]string{"flag"},
			),
			TriggerPolls: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "releasegate_trigger_polls_total",
					Help: "Trigger condition evaluations",
				},
				[]string{"trigger"},
			),
			TriggerViolations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "releasegate_trigger_violations_total",
					Help: "Observed trigger condition violations",
				},
				[]string{"trigger"},
			),
			TriggerTrips: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "releasegate_trigger_trips_total",
					Help: "Triggers tripped after their sustained-violation window",
				},
				[]string{"trigger"},
			),
			RollbacksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "releasegate_rollbacks_total",
					Help: "Rollback executions by outcome",
				},
				[]string{"strategy", "outcome"},
			),
			RollbackDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "releasegate_rollback_duration_seconds",
					Help:    "Time taken to complete rollback executions",
					Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
				},
				[]string{"strategy"},
			),
			RollbackStepRetries: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "releasegate_rollback_step_retries_total",
					Help: "Rollback step retry attempts",
				},
				[]string{"step"},
			),
			MetricsFetchErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "releasegate_metrics_fetch_errors_total",
					Help: "Metrics provider fetch failures by caller",
				},
				[]string{"caller"},
			),
			FlagEvaluations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "releasegate_flag_evaluations_total",
					Help: "Flag evaluations by reason",
				},
				[]string{"flag", "reason"},
			),
			EventsDropped: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "releasegate_events_dropped_total",
					Help: "Lifecycle events dropped because the bus buffer was full",
				},
			),
		}
	})
	return metrics
}

func (m *Metrics) RecordRollout(outcome string) {
	if m == nil {
		return
	}
	m.RolloutsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordStageEvalDuration(flag string, seconds float64) {
	if m == nil {
		return
	}
	m.StageEvalDuration.WithLabelValues(flag).Observe(seconds)
}

func (m *Metrics) RecordTriggerPoll(trigger string) {
	if m == nil {
		return
	}
	m.TriggerPolls.WithLabelValues(trigger).Inc()
}

func (m *Metrics) RecordTriggerViolation(trigger string) {
	if m == nil {
		return
	}
	m.TriggerViolations.WithLabelValues(trigger).Inc()
}

func (m *Metrics) RecordTriggerTrip(trigger string) {
	if m == nil {
		return
	}
	m.TriggerTrips.WithLabelValues(trigger).Inc()
}

func (m *Metrics) RecordRollback(strategy, outcome string) {
	if m == nil {
		return
	}
	m.RollbacksTotal.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) RecordRollbackDuration(strategy string, seconds float64) {
	if m == nil {
		return
	}
	m.RollbackDuration.WithLabelValues(strategy).Observe(seconds)
}

func (m *Metrics) RecordStepRetry(step string) {
	if m == nil {
		return
	}
	m.RollbackStepRetries.WithLabelValues(step).Inc()
}

func (m *Metrics) RecordMetricsFetchError(caller string) {
	if m == nil {
		return
	}
	m.MetricsFetchErrors.WithLabelValues(caller).Inc()
}

func (m *Metrics) RecordFlagEvaluation(flag, reason string) {
	if m == nil {
		return
	}
	m.FlagEvaluations.WithLabelValues(flag, reason).Inc()
}

func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}
