package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/imamik/gsclone/internal/logging"
)

const staticListVar = "dhcp_staticlist"

// ListBindings returns the parsed reservations on the router.
func (c *RealClient) ListBindings(ctx context.Context) ([]Binding, error) {
	list, err := c.readList(ctx)
	if err != nil {
		return nil, err
	}
	return list.Bindings(), nil
}

// Bind reserves address for mac.
func (c *RealClient) Bind(ctx context.Context, mac string, address netip.Addr, label string) error {
	norm := NormalizeMAC(mac)
	if norm == "" {
		return fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}
	if !address.IsValid() {
		return fmt.Errorf("bind %s: invalid address", norm)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	list, err := c.readList(ctx)
	if err != nil {
		return err
	}
	if holder, ok := list.ByAddress(address); ok && holder.MAC != norm {
		return fmt.Errorf("%w: %s is held by %s (%s)", ErrAddressConflict, address, holder.MAC, holder.Name)
	}
	if !list.Upsert(Binding{MAC: norm, Address: address, Name: label}) {
		logging.FromContext(ctx).V(1).Info("reservation already present", "mac", norm, "address", address)
		return nil
	}
	return c.writeList(ctx, list)
}

// Unbind removes the reservation of mac.
func (c *RealClient) Unbind(ctx context.Context, mac string) error {
	norm := NormalizeMAC(mac)
	if norm == "" {
		return fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	list, err := c.readList(ctx)
	if err != nil {
		return err
	}
	if !list.Remove(norm) {
		return nil
	}
	return c.writeList(ctx, list)
}

// Restore adds every binding whose MAC and address are both unused. Entries
// without a valid MAC are skipped. The list is written once.
func (c *RealClient) Restore(ctx context.Context, bindings []Binding) (*RestoreReport, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	list, err := c.readList(ctx)
	if err != nil {
		return nil, err
	}

	report := &RestoreReport{}
	for _, b := range bindings {
		b.MAC = NormalizeMAC(b.MAC)
		if b.MAC == "" || !b.Address.IsValid() {
			report.Skipped = append(report.Skipped, b)
			continue
		}
		_, macTaken := list.ByMAC(b.MAC)
		_, addrTaken := list.ByAddress(b.Address)
		if macTaken || addrTaken {
			report.Existing = append(report.Existing, b)
			continue
		}
		list.Upsert(b)
		report.Added = append(report.Added, b)
	}

	if len(report.Added) == 0 {
		return report, nil
	}
	if err := c.writeList(ctx, list); err != nil {
		return nil, err
	}
	return report, nil
}

func (c *RealClient) readList(ctx context.Context) (*StaticList, error) {
	form := url.Values{"hook": {"nvram_get(" + staticListVar + ")"}}

	var data map[string]json.RawMessage
	if err := c.post(ctx, "/appGet.cgi", form, &data); err != nil {
		return nil, fmt.Errorf("read %s: %w", staticListVar, err)
	}
	raw, err := extractStaticList(data)
	if err != nil {
		return nil, err
	}
	return ParseStaticList(raw), nil
}

func (c *RealClient) writeList(ctx context.Context, list *StaticList) error {
	raw := list.String()
	if strings.TrimSpace(raw) == "" {
		return ErrEmptyList
	}

	form := url.Values{
		"action_mode":  {"apply"},
		"rc_service":   {"restart_dhcpd"},
		staticListVar: {raw},
	}
	if err := c.post(ctx, "/applyapp.cgi", form, nil); err != nil {
		return fmt.Errorf("write %s: %w", staticListVar, err)
	}
	logging.FromContext(ctx).Info("updated DHCP reservations", "entries", list.Len())

	if c.applyDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.applyDelay):
		}
	}
	return nil
}

// extractStaticList finds the variable at the top level, nested under
// "nvram_get", or under any key naming it, depending on firmware.
func extractStaticList(data map[string]json.RawMessage) (string, error) {
	if v, ok := data[staticListVar]; ok {
		return decodeString(v)
	}
	if nested, ok := data["nvram_get"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err == nil {
			if v, ok := inner[staticListVar]; ok {
				return decodeString(v)
			}
		}
	}
	for k, v := range data {
		if strings.Contains(strings.ToLower(k), staticListVar) {
			return decodeString(v)
		}
	}
	return "", fmt.Errorf("%s missing from router response", staticListVar)
}

func decodeString(v json.RawMessage) (string, error) {
	if string(v) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("decode %s: %w", staticListVar, err)
	}
	return s, nil
}
