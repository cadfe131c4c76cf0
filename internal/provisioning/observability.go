package provisioning

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/gsclone/internal/workflow"
)

// EventType classifies step log events.
type EventType string

const (
	// EventStepStarted indicates a workflow step has started.
	EventStepStarted EventType = "step.started"
	// EventStepCompleted indicates a workflow step completed successfully.
	EventStepCompleted EventType = "step.completed"
	// EventStepSkipped indicates a step had nothing to do.
	EventStepSkipped EventType = "step.skipped"
	// EventStepFailed indicates a workflow step failed.
	EventStepFailed EventType = "step.failed"
)

func logStepStart(logger logr.Logger, step workflow.Step) {
	logger.V(1).Info("step started", "event", EventStepStarted, "step", step)
}

func logStepComplete(logger logr.Logger, step workflow.Step, duration time.Duration) {
	logger.Info("step completed", "event", EventStepCompleted, "step", step,
		"duration", duration.Round(time.Millisecond).String())
}

func logStepSkipped(logger logr.Logger, step workflow.Step, reason string) {
	logger.V(1).Info("step skipped", "event", EventStepSkipped, "step", step, "reason", reason)
}

func logStepFailed(logger logr.Logger, step workflow.Step, policy failurePolicy, err error) {
	logger.Error(err, "step failed", "event", EventStepFailed, "step", step, "policy", policy)
}
