package provisioning

import "errors"

var (
	// ErrInvalidRequest is returned when a provision request fails validation.
	ErrInvalidRequest = errors.New("invalid provision request")
	// ErrQuotaExceeded is returned when the owner already has the maximum
	// number of guests.
	ErrQuotaExceeded = errors.New("guest quota exceeded")
	// ErrSourceNotFound is returned when the template guest does not exist.
	ErrSourceNotFound = errors.New("source guest not found")
	// ErrAddressGatewayUnavailable is returned when the router cannot be
	// read before cloning.
	ErrAddressGatewayUnavailable = errors.New("address gateway unavailable")
	// ErrAddressPoolExhausted is returned when no address in the range is free.
	ErrAddressPoolExhausted = errors.New("address pool exhausted")
	// ErrCloneFailed is returned when the clone request or task fails.
	ErrCloneFailed = errors.New("clone failed")
	// ErrCloneNotResolved is returned when the clone task did not finish
	// within the clone timeout. The workflow stays in progress.
	ErrCloneNotResolved = errors.New("clone not resolved")
	// ErrWorkflowPaused is returned when a recoverable step failed and the
	// workflow waits for Resume.
	ErrWorkflowPaused = errors.New("workflow paused")
	// ErrWorkflowFailed is returned when a step failed after the clone.
	ErrWorkflowFailed = errors.New("workflow failed")
	// ErrNotResumable is returned by Resume for workflows that are neither
	// paused nor failed, or whose failed step has no resume path.
	ErrNotResumable = errors.New("workflow not resumable")
	// ErrWorkflowBusy is returned when the guest is being driven by another
	// call in this process.
	ErrWorkflowBusy = errors.New("workflow busy")
	// ErrNotOwner is returned when a guest belongs to another owner.
	ErrNotOwner = errors.New("guest belongs to another owner")
	// ErrProgressNotFound is returned for unknown or expired progress tokens.
	ErrProgressNotFound = errors.New("progress not found")
)
