package proxmox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type resourceEntry struct {
	VMID     int    `json:"vmid"`
	Type     string `json:"type"`
	Node     string `json:"node"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Lock     string `json:"lock"`
	Template int    `json:"template"`
}

func (e resourceEntry) guest() Guest {
	return Guest{
		GuestRef: GuestRef{Node: e.Node, ID: e.VMID, Type: GuestType(e.Type)},
		Name:     e.Name,
		Status:   e.Status,
		Lock:     e.Lock,
		Template: e.Template == 1,
	}
}

// Version returns the PVE release, e.g. "8.2.4".
func (c *RealClient) Version(ctx context.Context) (string, error) {
	var data struct {
		Version string `json:"version"`
	}
	if err := c.get(ctx, "/version", nil, &data); err != nil {
		return "", fmt.Errorf("get version: %w", err)
	}
	return data.Version, nil
}

// Nodes lists cluster members.
func (c *RealClient) Nodes(ctx context.Context) ([]Node, error) {
	var nodes []Node
	if err := c.get(ctx, "/nodes", nil, &nodes); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return nodes, nil
}

// Storages lists storage pools visible on node.
func (c *RealClient) Storages(ctx context.Context, node string) ([]Storage, error) {
	var storages []Storage
	if err := c.get(ctx, fmt.Sprintf("/nodes/%s/storage", node), nil, &storages); err != nil {
		return nil, fmt.Errorf("list storage on %s: %w", node, err)
	}
	return storages, nil
}

// ListGuests lists every VM and container in the cluster.
func (c *RealClient) ListGuests(ctx context.Context) ([]Guest, error) {
	var entries []resourceEntry
	if err := c.get(ctx, "/cluster/resources", url.Values{"type": {"vm"}}, &entries); err != nil {
		return nil, fmt.Errorf("list guests: %w", err)
	}

	guests := make([]Guest, 0, len(entries))
	for _, e := range entries {
		guests = append(guests, e.guest())
	}
	return guests, nil
}

// LocateGuest finds where guest id lives.
func (c *RealClient) LocateGuest(ctx context.Context, id int) (GuestRef, error) {
	guests, err := c.ListGuests(ctx)
	if err != nil {
		return GuestRef{}, err
	}
	for _, g := range guests {
		if g.ID == id {
			return g.GuestRef, nil
		}
	}
	return GuestRef{}, fmt.Errorf("%w: %d", ErrGuestNotFound, id)
}

// NextID asks the cluster for the next free guest id.
func (c *RealClient) NextID(ctx context.Context) (int, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/cluster/nextid", nil, &raw); err != nil {
		return 0, fmt.Errorf("get next id: %w", err)
	}
	// Returned as a JSON string by most releases, as a number by a few.
	id, err := strconv.Atoi(strings.Trim(string(raw), `"`))
	if err != nil {
		return 0, fmt.Errorf("parse next id %s: %w", raw, err)
	}
	return id, nil
}
