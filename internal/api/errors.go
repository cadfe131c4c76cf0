package api

import (
	"errors"
	"net/http"

	"github.com/imamik/gsclone/internal/provisioning"
	"github.com/imamik/gsclone/internal/store"
)

// statusFor maps orchestrator errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, provisioning.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, provisioning.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, provisioning.ErrSourceNotFound),
		errors.Is(err, provisioning.ErrProgressNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, provisioning.ErrNotResumable),
		errors.Is(err, provisioning.ErrWorkflowBusy):
		return http.StatusConflict
	case errors.Is(err, provisioning.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, provisioning.ErrAddressGatewayUnavailable),
		errors.Is(err, provisioning.ErrAddressPoolExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, provisioning.ErrWorkflowPaused),
		errors.Is(err, provisioning.ErrCloneNotResolved):
		// The guest exists and the workflow can continue.
		return http.StatusAccepted
	case errors.Is(err, provisioning.ErrCloneFailed),
		errors.Is(err, provisioning.ErrWorkflowFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
