package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imamik/gsclone/internal/progress"
	"github.com/imamik/gsclone/internal/provisioning"
)

// pollInterval is how often the live progress snapshot is read.
const pollInterval = 500 * time.Millisecond

// ProgressSource reads live progress by token.
type ProgressSource interface {
	GetLiveProgress(token string) (progress.Entry, error)
}

// RunFunc performs the provisioning call the view follows.
type RunFunc func(ctx context.Context) (*provisioning.Outcome, error)

// RunProvisionTUI runs fn in the background and renders the live progress
// published under token until fn returns. It returns fn's outcome and
// error.
func RunProvisionTUI(ctx context.Context, m Model, src ProgressSource, token string, fn RunFunc) (*provisioning.Outcome, error) {
	p := tea.NewProgram(m, tea.WithContext(ctx))

	var (
		out    *provisioning.Outcome
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		out, runErr = fn(ctx)
	}()

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				if e, err := src.GetLiveProgress(token); err == nil {
					p.Send(ProgressMsg{Entry: e})
				}
				p.Send(DoneMsg{Outcome: out, Err: runErr})
				return
			case <-ticker.C:
				if e, err := src.GetLiveProgress(token); err == nil {
					p.Send(ProgressMsg{Entry: e})
				}
			}
		}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return nil, fmt.Errorf("TUI error: %w", err)
	}

	// Quitting the view does not abort the workflow.
	<-done
	return out, runErr
}
