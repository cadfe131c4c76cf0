package router

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAddressConflict is returned by Bind when the address is reserved for a
// different MAC.
var ErrAddressConflict = errors.New("address already reserved for another MAC")

// ErrInvalidMAC is returned for malformed MAC addresses.
var ErrInvalidMAC = errors.New("invalid MAC address")

// ASUS error_status codes returned by login.cgi and appGet.cgi.
const (
	statusAuthRequired  = "2"
	statusWrongCreds    = "3"
	statusTryLater      = "7"
	statusTooManyLogins = "8"
	statusCaptcha       = "10"
)

// APIError is a rejected request.
type APIError struct {
	StatusCode int
	// Code is the error_status reported in the body, if any.
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("router API error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("router API error (status %d): %s", e.StatusCode, e.Message)
}

func codeMessage(code string) string {
	switch code {
	case statusAuthRequired:
		return "authorization required"
	case statusWrongCreds:
		return "wrong username or password"
	case statusTryLater, statusTooManyLogins:
		return "login temporarily blocked, try again later"
	case statusCaptcha:
		return "captcha required, log in through the web UI once"
	default:
		return "unexpected error"
	}
}

// IsAuthError checks if an error indicates rejected credentials.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == statusWrongCreds || apiErr.StatusCode == http.StatusForbidden
}

// isSessionExpired reports whether the token should be refreshed and the
// request repeated.
func isSessionExpired(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == statusAuthRequired || apiErr.StatusCode == http.StatusUnauthorized
}
