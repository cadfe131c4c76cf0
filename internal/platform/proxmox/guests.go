package proxmox

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Clone starts a full clone of req.Source. When req.NewID is zero the next
// free id is requested first.
func (c *RealClient) Clone(ctx context.Context, req CloneRequest) (*CloneResult, error) {
	newID := req.NewID
	if newID == 0 {
		id, err := c.NextID(ctx)
		if err != nil {
			return nil, err
		}
		newID = id
	}

	form := url.Values{
		"newid": {strconv.Itoa(newID)},
		"full":  {"1"},
	}
	if req.Name != "" {
		if req.Source.Type == GuestLXC {
			form.Set("hostname", req.Name)
		} else {
			form.Set("name", req.Name)
		}
	}
	if req.Target != "" && req.Target != req.Source.Node {
		form.Set("target", req.Target)
	}
	if req.Storage != "" {
		form.Set("storage", req.Storage)
	}

	var upid string
	if err := c.post(ctx, req.Source.path()+"/clone", form, &upid); err != nil {
		return nil, fmt.Errorf("clone %s to %d: %w", req.Source, newID, err)
	}

	handle, err := handleFromUPID(upid, req.Source.Node)
	if err != nil {
		return nil, err
	}

	node := req.Source.Node
	if req.Target != "" {
		node = req.Target
	}
	return &CloneResult{
		Guest: GuestRef{Node: node, ID: newID, Type: req.Source.Type},
		Task:  handle,
	}, nil
}

// Migrate moves a stopped guest to target.
func (c *RealClient) Migrate(ctx context.Context, guest GuestRef, target string) (TaskHandle, error) {
	form := url.Values{"target": {target}}

	var upid string
	if err := c.post(ctx, guest.path()+"/migrate", form, &upid); err != nil {
		return TaskHandle{}, fmt.Errorf("migrate %s to %s: %w", guest, target, err)
	}
	return handleFromUPID(upid, guest.Node)
}

// Start powers on a guest.
func (c *RealClient) Start(ctx context.Context, guest GuestRef) (TaskHandle, error) {
	var upid string
	if err := c.post(ctx, guest.path()+"/status/start", url.Values{}, &upid); err != nil {
		return TaskHandle{}, fmt.Errorf("start %s: %w", guest, err)
	}
	return handleFromUPID(upid, guest.Node)
}

// GetGuest reads a guest's power state and lock.
// It fails with a not-found error until the guest's config exists.
func (c *RealClient) GetGuest(ctx context.Context, guest GuestRef) (*Guest, error) {
	cfg, err := c.guestConfig(ctx, guest)
	if err != nil {
		return nil, err
	}

	var status struct {
		Status string `json:"status"`
		Name   string `json:"name"`
		Lock   string `json:"lock"`
	}
	if err := c.get(ctx, guest.path()+"/status/current", nil, &status); err != nil {
		return nil, fmt.Errorf("get status of %s: %w", guest, err)
	}

	g := &Guest{GuestRef: guest, Status: status.Status, Name: status.Name, Lock: status.Lock}
	if s, ok := cfg["lock"].(string); ok && s != "" {
		g.Lock = s
	}
	if g.Name == "" {
		g.Name, _ = cfg["name"].(string)
	}
	if g.Name == "" {
		g.Name, _ = cfg["hostname"].(string)
	}
	if t, ok := cfg["template"].(float64); ok && t == 1 {
		g.Template = true
	}
	return g, nil
}

func (c *RealClient) guestConfig(ctx context.Context, guest GuestRef) (map[string]any, error) {
	var cfg map[string]any
	if err := c.get(ctx, guest.path()+"/config", nil, &cfg); err != nil {
		return nil, fmt.Errorf("get config of %s: %w", guest, err)
	}
	return cfg, nil
}
