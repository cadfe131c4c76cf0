package wizard

import "errors"

// Validation errors for the interactive wizard.
var (
	errURLRequired  = errors.New("URL is required")
	errURLInvalid   = errors.New("URL must start with http:// or https://")
	errNodeRequired = errors.New("node name is required")
	errHostRequired = errors.New("host is required")
	errIPInvalid    = errors.New("invalid IPv4 address (expected: x.x.x.x)")
	errRangeOrder   = errors.New("range end must not be before range start")
	errTokenIDForm  = errors.New("token ID must look like user@realm!name")
)
