// Package tui provides a Bubble Tea-based terminal UI for guest provisioning.
package tui

import (
	"github.com/imamik/gsclone/internal/progress"
	"github.com/imamik/gsclone/internal/provisioning"
)

// ProgressMsg carries the latest live progress snapshot.
type ProgressMsg struct {
	Entry progress.Entry
}

// TickMsg is sent periodically to refresh the display.
type TickMsg struct{}

// ErrMsg carries an error.
type ErrMsg struct{ Err error }

// DoneMsg signals that the provisioning call returned.
type DoneMsg struct {
	Outcome *provisioning.Outcome
	Err     error
}
