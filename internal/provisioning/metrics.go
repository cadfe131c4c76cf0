package provisioning

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Workflow metrics
	workflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gsclone",
			Subsystem: "provisioning",
			Name:      "workflows_total",
			Help:      "Total number of workflow runs by operation and result",
		},
		[]string{"operation", "result"},
	)

	workflowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gsclone",
			Subsystem: "provisioning",
			Name:      "workflow_duration_seconds",
			Help:      "Duration of workflow runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34min
		},
		[]string{"operation"},
	)

	// Step metrics
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gsclone",
			Subsystem: "provisioning",
			Name:      "step_duration_seconds",
			Help:      "Duration of workflow steps in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15), // 100ms to ~27min
		},
		[]string{"step"},
	)

	stepFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gsclone",
			Subsystem: "provisioning",
			Name:      "step_failures_total",
			Help:      "Total number of failed workflow steps by policy",
		},
		[]string{"step", "policy"},
	)

	// Address pool
	addressClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gsclone",
			Subsystem: "addresses",
			Name:      "claims_total",
			Help:      "Total number of address selections by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		workflowsTotal,
		workflowDuration,
		stepDuration,
		stepFailuresTotal,
		addressClaimsTotal,
	)
}

// recordWorkflowMetric records a finished Provision or Resume call.
func recordWorkflowMetric(operation, result string, duration float64) {
	workflowsTotal.WithLabelValues(operation, result).Inc()
	workflowDuration.WithLabelValues(operation).Observe(duration)
}

// recordStepMetric records the duration of one step.
func recordStepMetric(step string, duration float64) {
	stepDuration.WithLabelValues(step).Observe(duration)
}

// recordStepFailureMetric records a failed step.
func recordStepFailureMetric(step, policy string) {
	stepFailuresTotal.WithLabelValues(step, policy).Inc()
}

// recordAddressClaimMetric records an address selection.
func recordAddressClaimMetric(result string) {
	addressClaimsTotal.WithLabelValues(result).Inc()
}

// Metrics helper methods that check enableMetrics before recording.

func (o *Orchestrator) recordWorkflow(operation, result string, duration float64) {
	if o.enableMetrics {
		recordWorkflowMetric(operation, result, duration)
	}
}

func (o *Orchestrator) recordStep(step string, duration float64) {
	if o.enableMetrics {
		recordStepMetric(step, duration)
	}
}

func (o *Orchestrator) recordStepFailure(step, policy string) {
	if o.enableMetrics {
		recordStepFailureMetric(step, policy)
	}
}

func (o *Orchestrator) recordAddressClaim(result string) {
	if o.enableMetrics {
		recordAddressClaimMetric(result)
	}
}
