package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/imamik/gsclone/internal/logging"
	"github.com/imamik/gsclone/internal/platform/gameserver"
	"github.com/imamik/gsclone/internal/platform/proxmox"
	"github.com/imamik/gsclone/internal/platform/router"
	"github.com/imamik/gsclone/internal/util/naming"
	"github.com/imamik/gsclone/internal/util/netutil"
	"github.com/imamik/gsclone/internal/util/retry"
	"github.com/imamik/gsclone/internal/workflow"
)

// failurePolicy decides what a failed step does to the workflow.
type failurePolicy string

const (
	// policyFail marks the workflow failed at the step.
	policyFail failurePolicy = "fail"
	// policyPause pauses the workflow so it can be resumed.
	policyPause failurePolicy = "pause"
	// policyWarn records the failure and continues with the next step.
	policyWarn failurePolicy = "warn"
)

// stepHandler runs one post-clone step against a loaded workflow.
type stepHandler func(o *Orchestrator, ctx context.Context, r *run) error

type stepDef struct {
	// percent is the progress reported when the step starts.
	percent int
	policy  failurePolicy
	run     stepHandler
	// resume redoes the step after a pause or failure. Nil means the
	// workflow cannot continue and a new Provision is required.
	resume stepHandler
}

// Progress milestones.
const (
	percentCloneStart   = 5
	percentCloneDone    = 60
	percentAddressBound = 70
	percentStarted      = 85
)

func newStepTable() map[workflow.Step]stepDef {
	return map[workflow.Step]stepDef{
		workflow.StepAdmission:    {percent: 0, policy: policyFail},
		workflow.StepAddressCheck: {percent: 2, policy: policyFail},
		workflow.StepCloning:      {percent: percentCloneStart, policy: policyFail},
		workflow.StepAddressReservation: {
			percent: 65,
			policy:  policyPause,
			run:     (*Orchestrator).reserveAddress,
			resume:  (*Orchestrator).reserveAddress,
		},
		workflow.StepPlacement: {
			percent: 75,
			policy:  policyWarn,
			run:     (*Orchestrator).place,
			resume:  (*Orchestrator).place,
		},
		workflow.StepStart: {
			percent: 80,
			policy:  policyWarn,
			run:     (*Orchestrator).start,
			resume:  (*Orchestrator).start,
		},
		workflow.StepWorldReset: {
			percent: 90,
			policy:  policyWarn,
			run:     (*Orchestrator).resetWorld,
			resume:  (*Orchestrator).resetWorld,
		},
		workflow.StepProxyRegistration: {
			percent: 95,
			policy:  policyWarn,
			run:     (*Orchestrator).registerProxy,
			resume:  (*Orchestrator).registerProxy,
		},
		workflow.StepFinalize: {percent: 100, policy: policyFail},
	}
}

// postCloneSteps run in order once the clone exists.
var postCloneSteps = []workflow.Step{
	workflow.StepAddressReservation,
	workflow.StepPlacement,
	workflow.StepStart,
	workflow.StepWorldReset,
	workflow.StepProxyRegistration,
}

// execute runs fn as step and applies the step's failure policy. In strict
// mode best-effort steps fail the workflow instead of warning.
func (o *Orchestrator) execute(ctx context.Context, r *run, step workflow.Step, fn stepHandler, strict bool) error {
	def := o.steps[step]
	logger := logging.FromContext(ctx)

	r.w.SetStep(step, o.now())
	r.w.SetProgress(def.percent)
	if err := o.save(ctx, r); err != nil {
		return o.stop(ctx, r, step, policyFail, err)
	}

	logStepStart(logger, step)
	started := time.Now()
	err := fn(o, ctx, r)
	o.recordStep(string(step), time.Since(started).Seconds())
	if err == nil {
		logStepComplete(logger, step, time.Since(started))
		if err := o.save(ctx, r); err != nil {
			return o.stop(ctx, r, step, policyFail, err)
		}
		return nil
	}

	policy := def.policy
	if ctx.Err() != nil || (strict && policy == policyWarn) {
		policy = policyFail
	}
	logStepFailed(logger, step, policy, err)
	o.recordStepFailure(string(step), string(policy))

	if policy == policyWarn {
		r.outcome.warn(step, err)
		return nil
	}
	return o.stop(ctx, r, step, policy, err)
}

// reserveAddress binds the guest's MAC to its assigned address. A
// conflicting binding made since selection triggers one reselect.
func (o *Orchestrator) reserveAddress(ctx context.Context, r *run) error {
	logger := logging.FromContext(ctx)
	if o.addresses == nil || o.pool == nil {
		return errors.New("address assignment is disabled")
	}

	mac, err := o.lookupMAC(ctx, r)
	if err != nil {
		return err
	}

	addr, err := netip.ParseAddr(r.w.AssignedAddress)
	if err != nil || !o.pool.contains(addr) {
		addr, err = o.selectAddress(ctx, r.w.GuestID)
		if err != nil {
			return err
		}
		r.assign(o.pool, addr)
	} else {
		o.pool.hold(addr)
		r.claimed = addr
	}

	err = o.addresses.Bind(ctx, mac, addr, naming.ReservationLabel(r.w.RequestedName))
	if errors.Is(err, router.ErrAddressConflict) {
		logger.Info("address was taken by another device, selecting a new one", "address", addr.String())
		addr, err = o.selectAddress(ctx, r.w.GuestID, addr)
		if err != nil {
			return err
		}
		r.assign(o.pool, addr)
		err = o.addresses.Bind(ctx, mac, addr, naming.ReservationLabel(r.w.RequestedName))
	}
	if err != nil {
		return fmt.Errorf("bind %s to %s: %w", mac, addr, err)
	}

	r.w.MarkAddressReserved(addr.String(), mac)
	r.w.SetProgress(percentAddressBound)
	r.guest.Address = addr.String()
	r.guest.MAC = mac
	return o.saveGuest(ctx, r)
}

// lookupMAC reads the guest's network config at a fixed interval until a
// MAC shows up.
func (o *Orchestrator) lookupMAC(ctx context.Context, r *run) (string, error) {
	var mac string
	err := retry.WithExponentialBackoff(ctx, func() error {
		info, err := o.compute.GetNetworkInfo(ctx, r.ref())
		if err != nil {
			return err
		}
		mac = router.NormalizeMAC(info.MAC)
		if mac == "" {
			return retry.Fatal(fmt.Errorf("guest reported invalid MAC %q", info.MAC))
		}
		return nil
	},
		retry.WithMaxRetries(max(0, o.timeouts.MACLookupAttempts-1)),
		retry.WithFixedDelay(o.timeouts.MACLookupInterval),
	)
	if err != nil {
		return "", fmt.Errorf("look up MAC of guest %d: %w", r.w.GuestID, err)
	}
	return mac, nil
}

// place migrates the guest to its target node.
func (o *Orchestrator) place(ctx context.Context, r *run) error {
	target := r.w.TargetNode
	if target == "" || target == r.w.Node {
		logStepSkipped(logging.FromContext(ctx), workflow.StepPlacement, "already on target node")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Migrate)
	defer cancel()

	if _, err := o.waitUnlocked(ctx, r.ref(), o.timeouts.Migrate); err != nil {
		return fmt.Errorf("wait for clone lock: %w", err)
	}
	task, err := o.compute.Migrate(ctx, r.ref(), target)
	if err != nil {
		return err
	}
	if err := o.waitTask(ctx, task, o.timeouts.Migrate); err != nil {
		return fmt.Errorf("migrate to %s: %w", target, err)
	}

	r.w.MarkMigrated(target)
	r.guest.Node = target
	return o.saveGuest(ctx, r)
}

// start powers the guest on and waits for it to settle.
func (o *Orchestrator) start(ctx context.Context, r *run) error {
	startCtx, cancel := context.WithTimeout(ctx, o.timeouts.Start)
	defer cancel()

	guest, err := o.waitUnlocked(startCtx, r.ref(), o.timeouts.Start)
	if err != nil {
		return fmt.Errorf("wait for guest config: %w", err)
	}
	if !guest.Running() {
		task, err := o.compute.Start(startCtx, r.ref())
		if err != nil {
			return err
		}
		if err := o.waitTask(startCtx, task, o.timeouts.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	r.w.MarkStarted()
	r.w.SetProgress(percentStarted)

	if addr, ok := r.address(); ok {
		port := 22
		if o.settings.Credentials != nil && o.settings.Credentials.Port != 0 {
			port = o.settings.Credentials.Port
		}
		settleCtx, cancel := context.WithTimeout(ctx, o.timeouts.Settle)
		defer cancel()
		if err := netutil.WaitForPort(settleCtx, addr.String(), port, o.timeouts.Settle); err != nil {
			logging.FromContext(ctx).Info("guest did not open its SSH port within the settle delay",
				"address", addr.String(), "error", err.Error())
		}
	}
	return nil
}

// resetWorld stops the game server, wipes the world and writes the seed.
func (o *Orchestrator) resetWorld(ctx context.Context, r *run) error {
	logger := logging.FromContext(ctx)
	creds, err := o.settings.credentialsFor(r.guest.RemoteAccess)
	if err != nil {
		return err
	}
	addr, ok := r.address()
	switch {
	case o.connector == nil || creds == nil:
		logStepSkipped(logger, workflow.StepWorldReset, "no credentials")
		return nil
	case !ok:
		logStepSkipped(logger, workflow.StepWorldReset, "no address")
		return nil
	}

	session, err := o.connector.Connect(ctx, addr.String(), *creds)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer func() { _ = session.Close() }()
	r.w.MarkRemoteConfigured()

	opts := o.settings.Reset
	opts.Seed = r.w.WorldSeed
	if err := gameserver.RunResetSequence(ctx, session, opts); err != nil {
		return err
	}
	r.w.MarkWorldConfigured()
	return nil
}

// registerProxy points the proxy at the guest.
func (o *Orchestrator) registerProxy(ctx context.Context, r *run) error {
	addr, ok := r.address()
	switch {
	case o.proxy == nil:
		logStepSkipped(logging.FromContext(ctx), workflow.StepProxyRegistration, "proxy disabled")
		return nil
	case !ok:
		logStepSkipped(logging.FromContext(ctx), workflow.StepProxyRegistration, "no address")
		return nil
	}
	if err := o.proxy.Register(ctx, naming.ProxyServer(r.w.RequestedName), addr, o.settings.GamePort); err != nil {
		return err
	}
	r.w.MarkProxyRegistered()
	return nil
}

// waitUnlocked polls the guest until its config exists and no task holds
// it. A missing config and transient errors are polled through until
// timeout; rejected credentials end the wait at once.
func (o *Orchestrator) waitUnlocked(ctx context.Context, ref proxmox.GuestRef, timeout time.Duration) (*proxmox.Guest, error) {
	var (
		guest   *proxmox.Guest
		lastErr error
	)
	err := retry.Poll(ctx, o.timeouts.TaskPollInterval, timeout, func(ctx context.Context) (bool, error) {
		g, err := o.compute.GetGuest(ctx, ref)
		if err != nil {
			if proxmox.IsAuthError(err) {
				return false, err
			}
			lastErr = err
			return false, nil
		}
		guest, lastErr = g, nil
		return !g.Locked(), nil
	})
	if err != nil && lastErr != nil {
		return nil, fmt.Errorf("%w: %w", err, lastErr)
	}
	return guest, err
}

// waitTask polls task until it finishes and reports its exit status.
func (o *Orchestrator) waitTask(ctx context.Context, task proxmox.TaskHandle, timeout time.Duration) error {
	var status *proxmox.TaskStatus
	err := retry.Poll(ctx, o.timeouts.TaskPollInterval, timeout, func(ctx context.Context) (bool, error) {
		st, err := o.compute.PollTask(ctx, task)
		if err != nil {
			return false, err
		}
		status = st
		return st.Terminal(), nil
	})
	if err != nil {
		return err
	}
	if !status.Succeeded() {
		return fmt.Errorf("task %s ended with %q", task.UPID, status.ExitStatus)
	}
	return nil
}
