package proxmox

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoNetwork is returned when a guest has no network device with a MAC yet.
var ErrNoNetwork = errors.New("guest has no network device with a MAC address")

// ErrGuestNotFound is returned by LocateGuest for unknown ids.
var ErrGuestNotFound = errors.New("guest not found")

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("proxmox API error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound checks if an error indicates a missing guest, task or node.
// The API reports missing guests as 500 "... does not exist".
func IsNotFound(err error) bool {
	if errors.Is(err, ErrGuestNotFound) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound ||
		strings.Contains(apiErr.Message, "does not exist") ||
		strings.Contains(apiErr.Message, "no such")
}

// IsAuthError checks if an error indicates rejected credentials or permissions.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}

// IsLocked checks if an error indicates the guest is held by another task.
func IsLocked(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(apiErr.Message, "is locked") || strings.Contains(apiErr.Message, "can't lock")
}

// isRetryable reports whether a read may be repeated.
// Transport errors and 5xx (other than missing objects) are transient.
func isRetryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	if IsNotFound(err) {
		return false
	}
	return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
}
