package workflow

import "fmt"

// Step names a stage of provisioning.
type Step string

// Steps in execution order.
const (
	StepAdmission          Step = "admission"
	StepAddressCheck       Step = "address_check"
	StepCloning            Step = "cloning"
	StepAddressReservation Step = "address_reservation"
	StepPlacement          Step = "placement"
	StepStart              Step = "start"
	StepWorldReset         Step = "world_reset"
	StepProxyRegistration  Step = "proxy_registration"
	StepFinalize           Step = "finalize"
)

var orderedSteps = []Step{
	StepAdmission,
	StepAddressCheck,
	StepCloning,
	StepAddressReservation,
	StepPlacement,
	StepStart,
	StepWorldReset,
	StepProxyRegistration,
	StepFinalize,
}

// Steps returns every step in execution order.
func Steps() []Step {
	return append([]Step(nil), orderedSteps...)
}

// ParseStep validates s.
func ParseStep(s string) (Step, error) {
	for _, st := range orderedSteps {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown step %q", s)
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	_, err := ParseStep(string(s))
	return err == nil
}

// Status is the lifecycle state of a workflow.
type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPaused     Status = "paused"
)
