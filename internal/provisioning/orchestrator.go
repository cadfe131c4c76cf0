package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/imamik/gsclone/internal/config"
	"github.com/imamik/gsclone/internal/logging"
	"github.com/imamik/gsclone/internal/platform/gameserver"
	"github.com/imamik/gsclone/internal/platform/proxmox"
	"github.com/imamik/gsclone/internal/progress"
	"github.com/imamik/gsclone/internal/store"
	"github.com/imamik/gsclone/internal/workflow"
)

// storeTimeout bounds persistence calls made after the caller's context
// is done.
const storeTimeout = 30 * time.Second

// Orchestrator provisions, resumes and decommissions guests.
type Orchestrator struct {
	compute   computeClient
	addresses addressClient
	connector gameserver.Connector
	proxy     proxyClient
	store     store.Store
	progress  progress.Broadcaster

	settings      Settings
	timeouts      *config.Timeouts
	steps         map[workflow.Step]stepDef
	pool          *addressPool
	now           func() time.Time
	enableMetrics bool

	mu     sync.Mutex
	active map[int]struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAddressGateway enables DHCP reservations through c.
func WithAddressGateway(c addressClient) Option {
	return func(o *Orchestrator) { o.addresses = c }
}

// WithConnector enables the world reset through c.
func WithConnector(c gameserver.Connector) Option {
	return func(o *Orchestrator) { o.connector = c }
}

// WithProxyGateway enables proxy registration through c.
func WithProxyGateway(c proxyClient) Option {
	return func(o *Orchestrator) { o.proxy = c }
}

// WithProgress sets the live progress broadcaster.
func WithProgress(b progress.Broadcaster) Option {
	return func(o *Orchestrator) { o.progress = b }
}

// WithTimeouts overrides the per-phase ceilings.
func WithTimeouts(t *config.Timeouts) Option {
	return func(o *Orchestrator) { o.timeouts = t }
}

// WithClock overrides the time source for workflow timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(enable bool) Option {
	return func(o *Orchestrator) { o.enableMetrics = enable }
}

// NewOrchestrator wires an orchestrator. Address assignment needs both an
// address range in settings and WithAddressGateway.
func NewOrchestrator(compute computeClient, st store.Store, settings Settings, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		compute:  compute,
		store:    st,
		settings: settings,
		progress: progress.Discard{},
		timeouts: config.LoadTimeouts(),
		steps:    newStepTable(),
		now:      time.Now,
		active:   make(map[int]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.settings.ProgressTTL <= 0 {
		o.settings.ProgressTTL = progress.DefaultTTL
	}
	if o.addresses != nil && settings.AddressAssignment() {
		o.pool = newAddressPool(settings.AddressRange)
	}
	return o
}

// addressAssignment reports whether clones get a reservation.
func (o *Orchestrator) addressAssignment() bool {
	return o.pool != nil
}

// run is the in-memory state of one Provision or Resume call.
type run struct {
	w       *workflow.Workflow
	guest   *workflow.ManagedGuest
	outcome *Outcome
	claimed netip.Addr
}

func (r *run) ref() proxmox.GuestRef {
	return proxmox.GuestRef{Node: r.w.Node, ID: r.w.GuestID, Type: proxmox.GuestType(r.w.GuestType)}
}

// address returns the guest's reserved address.
func (r *run) address() (netip.Addr, bool) {
	if r.w.AssignedAddress == "" {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(r.w.AssignedAddress)
	return addr, err == nil
}

// assign swaps the claimed address for addr.
func (r *run) assign(pool *addressPool, addr netip.Addr) {
	if r.claimed != addr {
		pool.release(r.claimed)
	}
	r.claimed = addr
	r.w.AssignedAddress = addr.String()
}

// Provision clones req.SourceGuestID and drives the clone to a serving
// state. The returned Outcome is never nil.
func (o *Orchestrator) Provision(ctx context.Context, req Request) (*Outcome, error) {
	started := time.Now()
	out := &Outcome{Token: req.Token}
	if out.Token == "" {
		out.Token = progress.NewToken()
	}
	if req.TargetNode == "" {
		req.TargetNode = o.settings.TargetNode
	}

	logger := logging.FromContext(ctx).WithValues("owner", req.OwnerID, "source", req.SourceGuestID, "name", req.Name)
	ctx = logging.IntoContext(ctx, logger)

	err := o.provision(ctx, req, out)
	o.recordWorkflow("provision", resultLabel(out, err), time.Since(started).Seconds())
	return out, err
}

func (o *Orchestrator) provision(ctx context.Context, req Request, out *Outcome) error {
	logger := logging.FromContext(ctx)

	// Admission
	if err := req.Validate(); err != nil {
		return o.reject(out, workflow.StepAdmission, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	o.publishPending(out.Token, workflow.StepAdmission, "")
	if err := o.checkQuota(ctx, req.OwnerID); err != nil {
		return o.reject(out, workflow.StepAdmission, err)
	}

	// Address check
	var addr netip.Addr
	if o.addressAssignment() {
		o.publishPending(out.Token, workflow.StepAddressCheck, "")
		a, err := o.selectAddress(ctx, 0)
		if err != nil {
			out.CanRetry = errors.Is(err, ErrAddressGatewayUnavailable)
			return o.reject(out, workflow.StepAddressCheck, err)
		}
		addr = a
		logger.V(1).Info("address selected", "address", addr.String())
	}
	releaseOnReject := func() {
		if o.pool != nil {
			o.pool.release(addr)
		}
	}

	// Clone
	source, err := o.compute.LocateGuest(ctx, req.SourceGuestID)
	if err != nil {
		releaseOnReject()
		if proxmox.IsNotFound(err) {
			return o.reject(out, workflow.StepCloning, fmt.Errorf("%w: %d", ErrSourceNotFound, req.SourceGuestID))
		}
		out.CanRetry = true
		return o.reject(out, workflow.StepCloning, fmt.Errorf("%w: locate source: %v", ErrCloneFailed, err))
	}
	o.publishPending(out.Token, workflow.StepCloning, "")
	res, err := o.compute.Clone(ctx, proxmox.CloneRequest{
		Source:  source,
		NewID:   req.NewID,
		Name:    req.Name,
		Storage: o.settings.Storage,
	})
	if err != nil {
		releaseOnReject()
		return o.reject(out, workflow.StepCloning, fmt.Errorf("%w: %v", ErrCloneFailed, err))
	}

	w := workflow.New(res.Guest.ID, req.OwnerID, req.Name, req.SourceGuestID, o.now())
	w.Token = out.Token
	w.WorldSeed = req.Seed
	w.Node = res.Guest.Node
	w.TargetNode = req.TargetNode
	w.GuestType = string(res.Guest.Type)
	w.CloneTask = workflow.TaskRef{Node: res.Task.Node, UPID: res.Task.UPID}
	if addr.IsValid() {
		w.AssignedAddress = addr.String()
	}
	w.SetProgress(percentCloneStart)

	r := &run{w: w, outcome: out, claimed: addr}
	defer func() {
		if o.pool != nil {
			o.pool.release(r.claimed)
		}
	}()
	out.sync(w)

	ctx = logging.IntoContext(ctx, logger.WithValues("guest", w.GuestID))
	logging.FromContext(ctx).Info("clone started", "upid", res.Task.UPID, "node", w.Node)

	if !o.begin(w.GuestID) {
		return fmt.Errorf("%w: guest %d", ErrWorkflowBusy, w.GuestID)
	}
	defer o.end(w.GuestID)

	if err := o.save(ctx, r); err != nil {
		return fmt.Errorf("persist workflow %d: %w", w.GuestID, err)
	}

	if err := o.waitForClone(ctx, r); err != nil {
		return err
	}
	return o.continueAfterClone(ctx, r)
}

// continueAfterClone runs every post-clone step and finalizes.
func (o *Orchestrator) continueAfterClone(ctx context.Context, r *run) error {
	for _, step := range postCloneSteps {
		if step == workflow.StepAddressReservation && !o.addressAssignment() {
			continue
		}
		if err := o.execute(ctx, r, step, o.steps[step].run, false); err != nil {
			return err
		}
	}
	return o.finalize(ctx, r)
}

// Resume continues a paused or failed workflow at its failed step.
func (o *Orchestrator) Resume(ctx context.Context, guestID int) (*Outcome, error) {
	started := time.Now()
	out := &Outcome{GuestID: guestID}
	ctx = logging.IntoContext(ctx, logging.FromContext(ctx).WithValues("guest", guestID))

	err := o.resume(ctx, guestID, out)
	o.recordWorkflow("resume", resultLabel(out, err), time.Since(started).Seconds())
	return out, err
}

func (o *Orchestrator) resume(ctx context.Context, guestID int, out *Outcome) error {
	w, err := o.store.GetWorkflow(ctx, guestID)
	if err != nil {
		return fmt.Errorf("load workflow %d: %w", guestID, err)
	}
	out.Token = w.Token
	out.sync(w)

	if w.CloneUnresolved() {
		return o.resumeClone(ctx, w, out)
	}
	if !w.Resumable() {
		return fmt.Errorf("%w: workflow %d is %s", ErrNotResumable, guestID, w.Status)
	}
	step := w.ErrorStep
	def, ok := o.steps[step]
	if !ok || def.resume == nil {
		return fmt.Errorf("%w: step %q has no resume path, provision a new guest", ErrNotResumable, step)
	}
	if step == workflow.StepAddressReservation && !o.addressAssignment() {
		return fmt.Errorf("%w: address assignment is disabled", ErrNotResumable)
	}

	if !o.begin(guestID) {
		return fmt.Errorf("%w: guest %d", ErrWorkflowBusy, guestID)
	}
	defer o.end(guestID)

	guest, err := o.store.GetGuest(ctx, guestID)
	recreated := false
	switch {
	case errors.Is(err, store.ErrNotFound):
		guest = workflow.GuestFromWorkflow(w, o.now())
		guest.RemoteAccess = o.settings.inheritedAccess()
		recreated = true
	case err != nil:
		return fmt.Errorf("load guest %d: %w", guestID, err)
	}

	if err := w.Resume(o.now()); err != nil {
		return err
	}
	if err := w.ResetStep(step); err != nil {
		return err
	}
	if w.Token == "" {
		w.Token = progress.NewToken()
	}
	out.Token = w.Token

	r := &run{w: w, guest: guest, outcome: out}
	defer func() {
		if o.pool != nil {
			o.pool.release(r.claimed)
		}
	}()
	logging.FromContext(ctx).Info("resuming workflow", "step", step)
	if recreated {
		if err := o.saveGuest(ctx, r); err != nil {
			return fmt.Errorf("persist guest %d: %w", guestID, err)
		}
	}

	if err := o.execute(ctx, r, step, def.resume, true); err != nil {
		return err
	}
	return o.finalize(ctx, r)
}

// resumeClone polls the recorded clone task of an unresolved workflow
// again and, once the clone exists, runs the remaining steps.
func (o *Orchestrator) resumeClone(ctx context.Context, w *workflow.Workflow, out *Outcome) error {
	if !o.begin(w.GuestID) {
		return fmt.Errorf("%w: guest %d", ErrWorkflowBusy, w.GuestID)
	}
	defer o.end(w.GuestID)

	if w.Token == "" {
		w.Token = progress.NewToken()
	}
	out.Token = w.Token

	r := &run{w: w, outcome: out}
	defer func() {
		if o.pool != nil {
			o.pool.release(r.claimed)
		}
	}()
	logging.FromContext(ctx).Info("polling unresolved clone again", "upid", w.CloneTask.UPID)

	if err := o.waitForClone(ctx, r); err != nil {
		return err
	}
	return o.continueAfterClone(ctx, r)
}

// finalize completes the workflow when its requirements are met.
func (o *Orchestrator) finalize(ctx context.Context, r *run) error {
	r.w.SetStep(workflow.StepFinalize, o.now())
	if o.addressAssignment() && !r.w.AddressReserved {
		return o.stop(ctx, r, workflow.StepAddressReservation, policyPause, errors.New("address not reserved"))
	}
	if err := r.w.Complete(o.now()); err != nil {
		return o.stop(ctx, r, workflow.StepFinalize, policyFail, err)
	}
	if err := o.save(ctx, r); err != nil {
		return fmt.Errorf("persist workflow %d: %w", r.w.GuestID, err)
	}
	o.progress.ScheduleExpiry(r.w.Token, o.settings.ProgressTTL)
	r.outcome.sync(r.w)
	r.outcome.CanRetry = false
	logging.FromContext(ctx).Info("workflow completed", "address", r.w.AssignedAddress,
		"warnings", len(r.outcome.Warnings))
	return nil
}

// stop pauses or fails the workflow at step and persists it.
func (o *Orchestrator) stop(ctx context.Context, r *run, step workflow.Step, policy failurePolicy, cause error) error {
	var err error
	if policy == policyPause {
		err = r.w.Pause(step, cause, o.now())
	} else {
		err = r.w.Fail(step, cause, o.now())
	}
	if err != nil {
		return errors.Join(cause, err)
	}
	if err := o.save(ctx, r); err != nil {
		logging.FromContext(ctx).Error(err, "failed to persist stopped workflow", "step", step)
	}
	o.progress.ScheduleExpiry(r.w.Token, o.settings.ProgressTTL)

	r.outcome.sync(r.w)
	r.outcome.CanRetry = o.steps[step].resume != nil
	if policy == policyPause {
		return fmt.Errorf("%w at %s: %w", ErrWorkflowPaused, step, cause)
	}
	return fmt.Errorf("%w at %s: %w", ErrWorkflowFailed, step, cause)
}

// reject ends a request that never produced a workflow record.
func (o *Orchestrator) reject(out *Outcome, step workflow.Step, err error) error {
	out.Status = workflow.StatusFailed
	out.Step = step
	out.Message = err.Error()
	o.progress.Publish(out.Token, progress.Entry{
		Status:      workflow.StatusFailed,
		CurrentStep: step,
		Message:     err.Error(),
		UpdatedAt:   o.now(),
	})
	o.progress.ScheduleExpiry(out.Token, o.settings.ProgressTTL)
	return err
}

func (o *Orchestrator) checkQuota(ctx context.Context, ownerID string) error {
	if o.settings.MaxGuestsPerOwner <= 0 {
		return nil
	}
	guests, err := o.store.ListGuests(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("count guests of %s: %w", ownerID, err)
	}
	if len(guests) >= o.settings.MaxGuestsPerOwner {
		return fmt.Errorf("%w: %s has %d of %d guests", ErrQuotaExceeded, ownerID, len(guests), o.settings.MaxGuestsPerOwner)
	}
	return nil
}

// selectAddress claims the first free address, skipping live bindings,
// addresses held by other unfinished workflows and the given exclusions.
func (o *Orchestrator) selectAddress(ctx context.Context, guestID int, exclude ...netip.Addr) (netip.Addr, error) {
	bindings, err := o.addresses.ListBindings(ctx)
	if err != nil {
		o.recordAddressClaim("unavailable")
		return netip.Addr{}, fmt.Errorf("%w: %v", ErrAddressGatewayUnavailable, err)
	}
	taken := append([]netip.Addr(nil), exclude...)
	for _, b := range bindings {
		taken = append(taken, b.Address)
	}

	workflows, err := o.store.ListWorkflows(ctx)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("list workflows: %w", err)
	}
	for _, w := range workflows {
		if w.GuestID == guestID || !holdsAddress(w) {
			continue
		}
		if a, err := netip.ParseAddr(w.AssignedAddress); err == nil {
			taken = append(taken, a)
		}
	}

	addr, err := o.pool.claim(taken)
	if err != nil {
		o.recordAddressClaim("exhausted")
		return netip.Addr{}, err
	}
	o.recordAddressClaim("claimed")
	return addr, nil
}

// holdsAddress reports whether w still owns its assigned address. Only
// workflows whose clone failed give it up.
func holdsAddress(w *workflow.Workflow) bool {
	if w.AssignedAddress == "" {
		return false
	}
	return !(w.Status == workflow.StatusFailed && !w.Cloned)
}

func (o *Orchestrator) begin(guestID int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[guestID]; busy {
		return false
	}
	o.active[guestID] = struct{}{}
	return true
}

func (o *Orchestrator) end(guestID int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, guestID)
}

// save persists the workflow and publishes its progress. Saves outlive a
// cancelled caller so the record reflects what happened.
func (o *Orchestrator) save(ctx context.Context, r *run) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	r.w.UpdatedAt = o.now()
	o.publish(r)
	return o.store.SaveWorkflow(ctx, r.w)
}

func (o *Orchestrator) saveGuest(ctx context.Context, r *run) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	r.guest.UpdatedAt = o.now()
	return o.store.SaveGuest(ctx, r.guest)
}

func (o *Orchestrator) publish(r *run) {
	o.progress.Publish(r.w.Token, progress.Entry{
		GuestID:         r.w.GuestID,
		Status:          r.w.Status,
		CurrentStep:     r.w.CurrentStep,
		ProgressPercent: r.w.ProgressPercent,
		Message:         r.w.ErrorMessage,
		UpdatedAt:       r.w.UpdatedAt,
	})
}

func (o *Orchestrator) publishPending(token string, step workflow.Step, msg string) {
	o.progress.Publish(token, progress.Entry{
		Status:          workflow.StatusInProgress,
		CurrentStep:     step,
		ProgressPercent: o.steps[step].percent,
		Message:         msg,
		UpdatedAt:       o.now(),
	})
}

// resultLabel classifies a finished call for metrics.
func resultLabel(out *Outcome, err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, ErrWorkflowPaused):
		return "paused"
	case errors.Is(err, ErrCloneNotResolved):
		return "unresolved"
	case out.GuestID == 0, errors.Is(err, ErrNotResumable), errors.Is(err, ErrWorkflowBusy),
		errors.Is(err, store.ErrNotFound):
		return "rejected"
	default:
		return "failed"
	}
}
