package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/imamik/gsclone/internal/logging"
	"github.com/imamik/gsclone/internal/workflow"
)

// errInterrupted is recorded on workflows a previous process left running.
var errInterrupted = errors.New("interrupted before the step finished")

// RecoverInterrupted stops stored in-progress workflows that this process
// is not running. A workflow interrupted at a step with a resume path is
// paused there; any other is failed. An unresolved clone is polled once and
// stays in progress for Resume unless its task failed. It returns the
// affected guest ids.
//
// Call it once at startup, before serving requests.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) ([]int, error) {
	ws, err := o.store.ListWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	var recovered []int
	for _, w := range ws {
		if w.Status != workflow.StatusInProgress || !o.begin(w.GuestID) {
			continue
		}
		stopped, err := o.stopInterrupted(ctx, w)
		o.end(w.GuestID)
		if err != nil {
			return recovered, err
		}
		if stopped {
			recovered = append(recovered, w.GuestID)
		}
	}
	return recovered, nil
}

func (o *Orchestrator) stopInterrupted(ctx context.Context, w *workflow.Workflow) (bool, error) {
	if w.CloneUnresolved() {
		// Resume can still pick the clone task up.
		if err := o.refreshUnresolvedClone(ctx, w); err != nil {
			logging.FromContext(ctx).Info("clone task status unavailable", "guest", w.GuestID, "error", err.Error())
		}
		return !w.CloneUnresolved(), nil
	}
	step := w.CurrentStep
	if !step.Valid() {
		step = workflow.StepCloning
	}

	var err error
	if o.steps[step].resume != nil {
		err = w.Pause(step, errInterrupted, o.now())
	} else {
		err = w.Fail(step, errInterrupted, o.now())
	}
	if err != nil {
		return false, err
	}
	if err := o.store.SaveWorkflow(context.WithoutCancel(ctx), w); err != nil {
		return false, fmt.Errorf("persist workflow %d: %w", w.GuestID, err)
	}
	logging.FromContext(ctx).Info("stopped interrupted workflow",
		"guest", w.GuestID, "step", step, "status", w.Status)
	return true, nil
}
