package provisioning

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/imamik/gsclone/internal/logging"
	"github.com/imamik/gsclone/internal/platform/proxmox"
	"github.com/imamik/gsclone/internal/util/retry"
	"github.com/imamik/gsclone/internal/workflow"
)

// percentToken matches progress figures such as "transferred 1.2 GiB of
// 32.0 GiB (3.75%)" or "drive-scsi0: transferred ... (42%)".
var percentToken = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)\s*%`)

// clonePercent returns the task's own progress when reported, else the
// highest percentage found in its log lines.
func clonePercent(st *proxmox.TaskStatus) (float64, bool) {
	if st.Percent != nil {
		return min(max(*st.Percent, 0), 100), true
	}
	best, found := 0.0, false
	for _, line := range st.LogLines {
		for _, m := range percentToken.FindAllStringSubmatch(line, -1) {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil || v > 100 {
				continue
			}
			if !found || v > best {
				best, found = v, true
			}
		}
	}
	return best, found
}

// scaleClonePercent maps clone progress onto the workflow's clone band.
func scaleClonePercent(p float64) int {
	return percentCloneStart + int(p*float64(percentCloneDone-percentCloneStart)/100)
}

// lastLogLine returns the final non-empty log line, used as failure detail.
func lastLogLine(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i] != "" {
			return lines[i]
		}
	}
	return ""
}

// cloneFailure describes a clone task that ended with an error.
func cloneFailure(st *proxmox.TaskStatus) error {
	cause := fmt.Errorf("clone task ended with %q", st.ExitStatus)
	if line := lastLogLine(st.LogLines); line != "" {
		cause = fmt.Errorf("%w: %s", cause, line)
	}
	return cause
}

// refreshUnresolvedClone polls the recorded clone task of an unresolved
// workflow once. A task that ended with an error fails the workflow; a
// running or finished task is left for Resume. The caller holds the guest.
func (o *Orchestrator) refreshUnresolvedClone(ctx context.Context, w *workflow.Workflow) error {
	st, err := o.compute.PollTask(ctx, proxmox.TaskHandle{Node: w.CloneTask.Node, UPID: w.CloneTask.UPID})
	if err != nil {
		return fmt.Errorf("poll clone task %s: %w", w.CloneTask.UPID, err)
	}
	if !st.Terminal() || st.Succeeded() {
		return nil
	}
	if err := w.Fail(workflow.StepCloning, cloneFailure(st), o.now()); err != nil {
		return err
	}
	if err := o.save(ctx, &run{w: w}); err != nil {
		return fmt.Errorf("persist workflow %d: %w", w.GuestID, err)
	}
	o.progress.ScheduleExpiry(w.Token, o.settings.ProgressTTL)
	logging.FromContext(ctx).Info("unresolved clone failed", "guest", w.GuestID, "upid", w.CloneTask.UPID,
		"error", w.ErrorMessage)
	return nil
}

// waitForClone polls the clone task until it ends or the clone timeout
// elapses. On success the workflow is marked cloned and the managed guest
// is created.
func (o *Orchestrator) waitForClone(ctx context.Context, r *run) error {
	logger := logging.FromContext(ctx)
	task := proxmox.TaskHandle{Node: r.w.CloneTask.Node, UPID: r.w.CloneTask.UPID}

	started := time.Now()
	var final *proxmox.TaskStatus
	err := retry.Poll(ctx, o.timeouts.TaskPollInterval, o.timeouts.Clone, func(ctx context.Context) (bool, error) {
		st, err := o.compute.PollTask(ctx, task)
		if err != nil {
			if proxmox.IsAuthError(err) {
				return false, err
			}
			logger.V(1).Info("clone status unavailable, polling again", "error", err.Error())
			return false, nil
		}
		if p, ok := clonePercent(st); ok {
			before := r.w.ProgressPercent
			r.w.SetProgress(scaleClonePercent(p))
			if r.w.ProgressPercent != before {
				if err := o.save(ctx, r); err != nil {
					logger.Error(err, "failed to persist clone progress")
				}
			}
		}
		if st.Terminal() {
			final = st
			return true, nil
		}
		return false, nil
	})
	o.recordStep(string(workflow.StepCloning), time.Since(started).Seconds())

	if err != nil {
		// The task keeps running on the hypervisor; the workflow stays in
		// progress with the task handle recorded.
		logger.Info("clone did not resolve", "upid", task.UPID, "error", err.Error())
		r.outcome.sync(r.w)
		r.outcome.CanRetry = true
		if errors.Is(err, retry.ErrPollTimeout) {
			return fmt.Errorf("%w: task %s still running after %v", ErrCloneNotResolved, task.UPID, o.timeouts.Clone)
		}
		return fmt.Errorf("%w: %v", ErrCloneNotResolved, err)
	}

	if !final.Succeeded() {
		cause := cloneFailure(final)
		o.recordStepFailure(string(workflow.StepCloning), string(policyFail))
		logStepFailed(logger, workflow.StepCloning, policyFail, cause)
		_ = o.stop(ctx, r, workflow.StepCloning, policyFail, cause)
		return fmt.Errorf("%w: %v", ErrCloneFailed, cause)
	}

	now := o.now()
	r.w.MarkCloned(r.w.Node)
	r.w.SetProgress(percentCloneDone)
	r.guest = workflow.GuestFromWorkflow(r.w, now)
	r.guest.RemoteAccess = o.settings.inheritedAccess()

	err = retry.WithExponentialBackoff(ctx, func() error {
		return o.saveGuest(ctx, r)
	}, retry.WithMaxRetries(3), retry.WithInitialDelay(500*time.Millisecond))
	if err != nil {
		return o.stop(ctx, r, workflow.StepCloning, policyFail, fmt.Errorf("record guest: %w", err))
	}
	if err := o.save(ctx, r); err != nil {
		return o.stop(ctx, r, workflow.StepCloning, policyFail, err)
	}
	logStepComplete(logger, workflow.StepCloning, time.Since(started))
	return nil
}
