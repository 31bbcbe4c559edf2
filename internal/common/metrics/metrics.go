// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_transitions_applied_total",
			Help: "Total number of optimistic transitions applied locally",
		},
		[]string{"transition"},
	)

	TransitionsDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_transitions_denied_total",
			Help: "Total number of transitions denied by the validator",
		},
		[]string{"transition"},
	)

	TransitionsRolledBack = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_transitions_rolled_back_total",
			Help: "Total number of transitions rolled back after remote failure",
		},
		[]string{"transition"},
	)

	StaleReconciliations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_stale_reconciliations_total",
			Help: "Total number of remote responses discarded as superseded",
		},
	)

	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_remote_call_duration_seconds",
			Help: "Duration of remote transition calls in seconds",
		},
		[]string{"transition"},
	)
)
