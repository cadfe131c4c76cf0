// Package benchmarks provides timing estimates for provisioning steps.
package benchmarks

import (
	"time"

	"github.com/imamik/gsclone/internal/workflow"
)

// DefaultTimings are median step durations on a small homelab cluster
// (seconds). Cloning dominates and depends on disk size and storage.
var DefaultTimings = map[workflow.Step]int{
	workflow.StepAdmission:          1,
	workflow.StepAddressCheck:       1,
	workflow.StepCloning:            120,
	workflow.StepAddressReservation: 10,
	workflow.StepPlacement:          60,
	workflow.StepStart:              20,
	workflow.StepWorldReset:         15,
	workflow.StepProxyRegistration:  5,
	workflow.StepFinalize:           1,
}

// StepRecord is one observed step of a running workflow.
type StepRecord struct {
	Step      workflow.Step
	StartedAt time.Time
	EndedAt   *time.Time
}

// Duration returns how long the step took, or zero while it runs.
func (r StepRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// EstimateRemaining calculates the estimated time remaining based on the
// current step, time spent in it and the steps seen so far.
func EstimateRemaining(current workflow.Step, stepElapsed time.Duration, history []StepRecord) time.Duration {
	return EstimateRemainingWithScale(current, stepElapsed, history, PerformanceScale(current, stepElapsed, history))
}

// EstimateRemainingWithScale calculates the ETA while applying a
// performance scale factor.
func EstimateRemainingWithScale(
	current workflow.Step,
	stepElapsed time.Duration,
	history []StepRecord,
	scale float64,
) time.Duration {
	order := workflow.Steps()
	currentIdx := -1
	for i, s := range order {
		if s == current {
			currentIdx = i
			break
		}
	}
	if currentIdx < 0 || current == workflow.StepFinalize {
		return 0
	}

	var remaining time.Duration
	if expected, ok := DefaultTimings[current]; ok {
		expectedDur := time.Duration(float64(time.Duration(expected)*time.Second) * scale)
		if expectedDur > stepElapsed {
			remaining += expectedDur - stepElapsed
		}
	}

	completed := make(map[workflow.Step]bool)
	for _, rec := range history {
		if rec.EndedAt != nil {
			completed[rec.Step] = true
		}
	}
	for _, step := range order[currentIdx+1:] {
		if completed[step] {
			continue
		}
		if expected, ok := DefaultTimings[step]; ok {
			remaining += time.Duration(float64(time.Duration(expected)*time.Second) * scale)
		}
	}
	return remaining
}

// PerformanceScale derives a speed multiplier from observed-vs-expected
// durations, clamped to [0.6, 3].
// Example: expected 2m, observed 3m => scale=1.5.
func PerformanceScale(current workflow.Step, stepElapsed time.Duration, history []StepRecord) float64 {
	var expectedTotal, actualTotal time.Duration

	for _, rec := range history {
		secs, ok := DefaultTimings[rec.Step]
		if !ok || rec.EndedAt == nil {
			continue
		}
		expectedTotal += time.Duration(secs) * time.Second
		actualTotal += rec.Duration()
	}

	// An overrunning step counts right away so the ETA adapts quickly.
	if secs, ok := DefaultTimings[current]; ok && stepElapsed > 0 {
		expectedCurrent := time.Duration(secs) * time.Second
		if stepElapsed > expectedCurrent {
			expectedTotal += expectedCurrent
			actualTotal += stepElapsed
		}
	}

	if expectedTotal == 0 || actualTotal == 0 {
		return 1.0
	}
	scale := float64(actualTotal) / float64(expectedTotal)
	return min(max(scale, 0.6), 3.0)
}

// StepExpectedDuration returns the benchmark duration for step.
func StepExpectedDuration(step workflow.Step) (time.Duration, bool) {
	secs, ok := DefaultTimings[step]
	if !ok {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// TotalEstimate returns the total estimated provisioning time.
func TotalEstimate() time.Duration {
	var total time.Duration
	for _, step := range workflow.Steps() {
		total += time.Duration(DefaultTimings[step]) * time.Second
	}
	return total
}
