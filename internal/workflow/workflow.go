package workflow

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned for status changes the state machine
// does not allow.
var ErrInvalidTransition = errors.New("invalid workflow transition")

// TaskRef identifies an asynchronous hypervisor task so it can be polled
// again after a restart.
type TaskRef struct {
	Node string `json:"node"`
	UPID string `json:"upid"`
}

// Workflow is the durable record of one provisioning attempt. There is at
// most one per guest.
type Workflow struct {
	GuestID       int    `json:"guestId"`
	GuestType     string `json:"guestType,omitempty"`
	OwnerID       string `json:"ownerId"`
	RequestedName string `json:"requestedName"`
	SourceGuestID int    `json:"sourceGuestId"`
	Token         string `json:"token,omitempty"`
	WorldSeed     string `json:"worldSeed,omitempty"`
	Node          string `json:"node,omitempty"`
	TargetNode    string `json:"targetNode,omitempty"`

	Status          Status `json:"status"`
	CurrentStep     Step   `json:"currentStep"`
	ProgressPercent int    `json:"progressPercent"`

	Cloned           bool `json:"cloned"`
	AddressReserved  bool `json:"addressReserved"`
	RemoteConfigured bool `json:"remoteConfigured"`
	WorldConfigured  bool `json:"worldConfigured"`
	ProxyRegistered  bool `json:"proxyRegistered"`
	Migrated         bool `json:"migrated"`
	Started          bool `json:"started"`

	AssignedAddress string  `json:"assignedAddress,omitempty"`
	AssignedMAC     string  `json:"assignedMac,omitempty"`
	CloneTask       TaskRef `json:"cloneTask"`

	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorStep    Step   `json:"errorStep,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// New starts an in-progress workflow at the cloning step.
func New(guestID int, ownerID, name string, sourceID int, now time.Time) *Workflow {
	return &Workflow{
		GuestID:       guestID,
		OwnerID:       ownerID,
		RequestedName: name,
		SourceGuestID: sourceID,
		Status:        StatusInProgress,
		CurrentStep:   StepCloning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Copy returns a deep copy.
func (w *Workflow) Copy() *Workflow {
	c := *w
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// SetProgress raises the percentage; lower values and values outside
// [0,100] are clamped.
func (w *Workflow) SetProgress(percent int) {
	percent = max(0, min(100, percent))
	if percent > w.ProgressPercent {
		w.ProgressPercent = percent
	}
}

// SetStep records the step being worked on.
func (w *Workflow) SetStep(step Step, now time.Time) {
	w.CurrentStep = step
	w.UpdatedAt = now
}

// MarkCloned records the clone result.
func (w *Workflow) MarkCloned(node string) {
	w.Cloned = true
	if node != "" {
		w.Node = node
	}
}

// MarkAddressReserved records the bound address and MAC.
func (w *Workflow) MarkAddressReserved(address, mac string) {
	w.AddressReserved = true
	w.AssignedAddress = address
	w.AssignedMAC = mac
}

// MarkMigrated records a successful migration to node.
func (w *Workflow) MarkMigrated(node string) {
	w.Migrated = true
	w.Node = node
}

// MarkStarted records that the guest was started.
func (w *Workflow) MarkStarted() { w.Started = true }

// MarkRemoteConfigured records that an SSH session could be established.
func (w *Workflow) MarkRemoteConfigured() { w.RemoteConfigured = true }

// MarkWorldConfigured records a completed world reset.
func (w *Workflow) MarkWorldConfigured() { w.WorldConfigured = true }

// MarkProxyRegistered records the proxy registration.
func (w *Workflow) MarkProxyRegistered() { w.ProxyRegistered = true }

// ResetStep clears the outcome flags owned by step so it can be redone.
// Only allowed while the workflow is being resumed at that step.
func (w *Workflow) ResetStep(step Step) error {
	if w.Status != StatusInProgress || w.ErrorStep != step {
		return fmt.Errorf("%w: reset %s while %s at %s", ErrInvalidTransition, step, w.Status, w.ErrorStep)
	}
	switch step {
	case StepAddressReservation:
		w.AddressReserved = false
	case StepPlacement:
		w.Migrated = false
	case StepStart:
		w.Started = false
	case StepWorldReset:
		w.RemoteConfigured = false
		w.WorldConfigured = false
	case StepProxyRegistration:
		w.ProxyRegistered = false
	}
	return nil
}

// Complete finishes the workflow. A workflow without a clone cannot
// complete.
func (w *Workflow) Complete(now time.Time) error {
	if w.Status != StatusInProgress {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.Status, StatusCompleted)
	}
	if !w.Cloned {
		return fmt.Errorf("%w: cannot complete before the clone succeeded", ErrInvalidTransition)
	}
	w.Status = StatusCompleted
	w.CurrentStep = StepFinalize
	w.ProgressPercent = 100
	w.ErrorMessage = ""
	w.ErrorStep = ""
	w.CompletedAt = &now
	w.UpdatedAt = now
	return nil
}

// Fail stops the workflow at step.
func (w *Workflow) Fail(step Step, cause error, now time.Time) error {
	return w.stop(StatusFailed, step, cause, now)
}

// Pause stops the workflow at step so it can be resumed.
func (w *Workflow) Pause(step Step, cause error, now time.Time) error {
	return w.stop(StatusPaused, step, cause, now)
}

func (w *Workflow) stop(to Status, step Step, cause error, now time.Time) error {
	if w.Status != StatusInProgress {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.Status, to)
	}
	if !step.Valid() {
		return fmt.Errorf("%w: unknown step %q", ErrInvalidTransition, step)
	}
	w.Status = to
	w.ErrorStep = step
	w.CurrentStep = step
	if cause != nil {
		w.ErrorMessage = cause.Error()
	}
	w.UpdatedAt = now
	return nil
}

// Resume moves a failed or paused workflow back to in-progress. ErrorStep
// is kept so the caller knows which step to redo.
func (w *Workflow) Resume(now time.Time) error {
	if w.Status != StatusFailed && w.Status != StatusPaused {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.Status, StatusInProgress)
	}
	w.Status = StatusInProgress
	w.ErrorMessage = ""
	w.UpdatedAt = now
	return nil
}

// Terminal reports whether the workflow is no longer running.
func (w *Workflow) Terminal() bool {
	return w.Status != StatusInProgress
}

// CloneUnresolved reports whether the workflow stopped waiting on its clone
// task without learning the result. The recorded task can be polled again.
func (w *Workflow) CloneUnresolved() bool {
	return w.Status == StatusInProgress && w.CurrentStep == StepCloning &&
		!w.Cloned && w.CloneTask.UPID != ""
}

// Resumable reports whether Resume may be called.
func (w *Workflow) Resumable() bool {
	return w.Status == StatusFailed || w.Status == StatusPaused
}
