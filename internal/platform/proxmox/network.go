package proxmox

import (
	"context"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var netKeyRegex = regexp.MustCompile(`^net(\d+)$`)

// GetNetworkInfo returns the lowest-numbered network device that carries a MAC.
// A freshly cloned guest may not have one yet; ErrNoNetwork is returned then.
func (c *RealClient) GetNetworkInfo(ctx context.Context, guest GuestRef) (*NetworkInfo, error) {
	cfg, err := c.guestConfig(ctx, guest)
	if err != nil {
		return nil, err
	}
	return networkFromConfig(cfg)
}

func networkFromConfig(cfg map[string]any) (*NetworkInfo, error) {
	type device struct {
		idx  int
		name string
		spec string
	}
	var devices []device
	for k, v := range cfg {
		m := netKeyRegex.FindStringSubmatch(k)
		if m == nil {
			continue
		}
		spec, ok := v.(string)
		if !ok {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		devices = append(devices, device{idx: idx, name: k, spec: spec})
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].idx < devices[j].idx })

	for _, d := range devices {
		info := ParseNetSpec(d.spec)
		if info.MAC != "" {
			info.Device = d.name
			return info, nil
		}
	}
	return nil, ErrNoNetwork
}

// ParseNetSpec parses a netN value such as
// "virtio=BC:24:11:2A:3B:4C,bridge=vmbr0,firewall=1" (QEMU) or
// "name=eth0,bridge=vmbr0,hwaddr=BC:24:11:2A:3B:4C,ip=dhcp" (LXC).
// The MAC is returned upper-cased.
func ParseNetSpec(spec string) *NetworkInfo {
	info := &NetworkInfo{}
	for _, part := range strings.Split(spec, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "bridge":
			info.Bridge = value
		case "hwaddr", "macaddr":
			if isMAC(value) {
				info.MAC = strings.ToUpper(value)
			}
		default:
			// QEMU encodes the model as the key of the MAC.
			if info.MAC == "" && isMAC(value) {
				info.Model = key
				info.MAC = strings.ToUpper(value)
			}
		}
	}
	return info
}

func isMAC(s string) bool {
	hw, err := net.ParseMAC(s)
	return err == nil && len(hw) == 6
}
