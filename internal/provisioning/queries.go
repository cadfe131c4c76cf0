package provisioning

import (
	"context"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/imamik/gsclone/internal/logging"
	"github.com/imamik/gsclone/internal/platform/router"
	"github.com/imamik/gsclone/internal/progress"
	"github.com/imamik/gsclone/internal/util/naming"
	"github.com/imamik/gsclone/internal/workflow"
)

// WorkflowStatus is the durable state of a workflow plus whether Resume
// can continue it.
type WorkflowStatus struct {
	Workflow *workflow.Workflow `json:"workflow"`
	CanRetry bool               `json:"canRetry"`
}

// GetWorkflowStatus returns the stored workflow of guestID. An unresolved
// clone not being waited on is polled once first.
func (o *Orchestrator) GetWorkflowStatus(ctx context.Context, guestID int) (*WorkflowStatus, error) {
	w, err := o.store.GetWorkflow(ctx, guestID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %d: %w", guestID, err)
	}
	if w.CloneUnresolved() && o.begin(guestID) {
		defer o.end(guestID)
		if err := o.refreshUnresolvedClone(ctx, w); err != nil {
			logging.FromContext(ctx).V(1).Info("clone task status unavailable", "guest", guestID, "error", err.Error())
		}
		if w.CloneUnresolved() {
			return &WorkflowStatus{Workflow: w, CanRetry: true}, nil
		}
	}
	return &WorkflowStatus{
		Workflow: w,
		CanRetry: w.Resumable() && o.steps[w.ErrorStep].resume != nil,
	}, nil
}

// Accept publishes a pending entry for token so a client polling live
// progress finds it before the workflow itself publishes.
func (o *Orchestrator) Accept(token string) {
	o.publishPending(token, workflow.StepAdmission, "accepted")
}

// GetLiveProgress returns the latest progress published under token.
func (o *Orchestrator) GetLiveProgress(token string) (progress.Entry, error) {
	e, ok := o.progress.Get(token)
	if !ok {
		return progress.Entry{}, ErrProgressNotFound
	}
	return e, nil
}

// ListGuests returns the guests of ownerID, or all guests when empty.
func (o *Orchestrator) ListGuests(ctx context.Context, ownerID string) ([]*workflow.ManagedGuest, error) {
	return o.store.ListGuests(ctx, ownerID)
}

// ListWorkflows returns every stored workflow.
func (o *Orchestrator) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	return o.store.ListWorkflows(ctx)
}

// AttachRemoteAccess replaces the credentials reference of a guest. The
// key file is read when the world reset runs.
func (o *Orchestrator) AttachRemoteAccess(ctx context.Context, guestID int, ownerID string, ra workflow.RemoteAccess) (*workflow.ManagedGuest, error) {
	err := validation.ValidateStruct(&ra,
		validation.Field(&ra.User, validation.Required),
		validation.Field(&ra.KeyFile, validation.Required),
		validation.Field(&ra.Port, validation.Min(0), validation.Max(65535)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	g, err := o.ownedGuest(ctx, guestID, ownerID)
	if err != nil {
		return nil, err
	}
	ra.Inherited = false
	g.RemoteAccess = &ra
	g.UpdatedAt = o.now()
	if err := o.store.SaveGuest(ctx, g); err != nil {
		return nil, fmt.Errorf("save guest %d: %w", guestID, err)
	}
	return g, nil
}

// DecommissionResult reports the best-effort cleanup of a guest.
type DecommissionResult struct {
	GuestID           int      `json:"guestId"`
	ProxyDeregistered bool     `json:"proxyDeregistered"`
	AddressReleased   bool     `json:"addressReleased"`
	Warnings          []string `json:"warnings,omitempty"`
}

// Decommission removes a guest from the proxy and the router and deletes
// its records. The hypervisor guest itself is left alone. An empty ownerID
// skips the ownership check.
func (o *Orchestrator) Decommission(ctx context.Context, guestID int, ownerID string) (*DecommissionResult, error) {
	logger := logging.FromContext(ctx).WithValues("guest", guestID)

	g, err := o.ownedGuest(ctx, guestID, ownerID)
	if err != nil {
		return nil, err
	}
	if !o.begin(guestID) {
		return nil, fmt.Errorf("%w: guest %d", ErrWorkflowBusy, guestID)
	}
	defer o.end(guestID)

	res := &DecommissionResult{GuestID: guestID}
	warn := func(what string, err error) {
		logger.Info("decommission cleanup failed", "what", what, "error", err.Error())
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", what, err))
	}

	if o.proxy != nil {
		if err := o.proxy.Deregister(ctx, naming.ProxyServer(g.DisplayName)); err != nil {
			warn("proxy deregistration", err)
		} else {
			res.ProxyDeregistered = true
		}
	}
	if o.addresses != nil && g.MAC != "" {
		err := o.addresses.Unbind(ctx, g.MAC)
		switch {
		case errors.Is(err, router.ErrEmptyList):
			warn("address release", fmt.Errorf("last reservation on the router is kept: %w", err))
		case err != nil:
			warn("address release", err)
		default:
			res.AddressReleased = true
		}
	}

	if err := o.store.DeleteGuest(ctx, guestID); err != nil {
		return res, fmt.Errorf("delete guest %d: %w", guestID, err)
	}
	// Guest ids are reused by the hypervisor, so the workflow goes too.
	if err := o.store.DeleteWorkflow(ctx, guestID); err != nil {
		return res, fmt.Errorf("delete workflow %d: %w", guestID, err)
	}
	logger.Info("guest decommissioned", "warnings", len(res.Warnings))
	return res, nil
}

func (o *Orchestrator) ownedGuest(ctx context.Context, guestID int, ownerID string) (*workflow.ManagedGuest, error) {
	g, err := o.store.GetGuest(ctx, guestID)
	if err != nil {
		return nil, fmt.Errorf("load guest %d: %w", guestID, err)
	}
	if ownerID != "" && g.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: guest %d", ErrNotOwner, guestID)
	}
	return g, nil
}

