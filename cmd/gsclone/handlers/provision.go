package handlers

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/imamik/gsclone/internal/logging"
	"github.com/imamik/gsclone/internal/progress"
	"github.com/imamik/gsclone/internal/provisioning"
	"github.com/imamik/gsclone/internal/ui/tui"
)

// runTUI renders live progress while a workflow runs (for testing injection).
var runTUI = tui.RunProvisionTUI

// ProvisionOptions are the inputs of the provision command.
type ProvisionOptions struct {
	ConfigPath string
	Request    provisioning.Request
	JSON       bool
}

// Provision clones a game server and follows the workflow to its end.
//
// On a terminal the live progress view is shown; otherwise the workflow
// logs to stderr and a summary is printed when it ends.
func Provision(ctx context.Context, opts ProvisionOptions) error {
	interactive := isTerminal() && !opts.JSON
	if interactive {
		// Log lines would tear the progress view.
		ctx = logging.IntoContext(ctx, logr.Discard())
	}

	env, err := newEnvironment(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer env.Close()

	req := opts.Request
	if req.Token == "" {
		req.Token = progress.NewToken()
	}
	run := func(ctx context.Context) (*provisioning.Outcome, error) {
		return env.orch.Provision(ctx, req)
	}

	var out *provisioning.Outcome
	if interactive {
		out, err = runTUI(ctx, tui.NewProvisionModel(req.Name, req.SourceGuestID), env.orch, req.Token, run)
	} else {
		out, err = run(ctx)
	}
	return report(out, err, opts.JSON, interactive)
}

// Resume continues a paused or failed workflow.
func Resume(ctx context.Context, configPath string, guestID int, jsonOutput bool) error {
	interactive := isTerminal() && !jsonOutput
	if interactive {
		ctx = logging.IntoContext(ctx, logr.Discard())
	}

	env, err := newEnvironment(ctx, configPath)
	if err != nil {
		return err
	}
	defer env.Close()

	run := func(ctx context.Context) (*provisioning.Outcome, error) {
		return env.orch.Resume(ctx, guestID)
	}

	// The view follows the workflow's own token; without one there is
	// nothing to follow.
	token := ""
	if st, err := env.orch.GetWorkflowStatus(ctx, guestID); err == nil && st.Workflow != nil {
		token = st.Workflow.Token
	}

	var out *provisioning.Outcome
	if interactive && token != "" {
		out, err = runTUI(ctx, tui.NewResumeModel(guestID), env.orch, token, run)
	} else {
		interactive = false
		out, err = run(ctx)
	}
	return report(out, err, jsonOutput, interactive)
}

// report prints the outcome and returns err with context.
func report(out *provisioning.Outcome, err error, jsonOutput, shown bool) error {
	if jsonOutput {
		res := outcomeResult{Outcome: out}
		if err != nil {
			res.Error = err.Error()
		}
		if perr := printJSON(res); perr != nil {
			return perr
		}
	} else if !shown {
		printOutcome(out, err)
	}
	if err != nil {
		return fmt.Errorf("provisioning did not complete: %w", err)
	}
	return nil
}
