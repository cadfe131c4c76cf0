package router

import (
	"errors"
	"net"
	"net/netip"
	"strings"
)

// ErrEmptyList is returned instead of writing an empty dhcp_staticlist.
// An empty write would wipe every reservation on the router.
var ErrEmptyList = errors.New("refusing to write an empty dhcp_staticlist")

type listStyle int

const (
	// styleColon is "MAC:IP:NAME" entries joined by a separator.
	styleColon listStyle = iota
	// styleLegacy is "<MAC>IP>NAME" or "<MAC>IP>DNS>NAME".
	styleLegacy
)

type listEntry struct {
	// raw is kept for entries that could not be parsed and is written back
	// verbatim.
	raw     string
	binding *Binding
}

// StaticList is a parsed dhcp_staticlist that formats back in the style it
// was read in.
type StaticList struct {
	style     listStyle
	sep       string
	dnsFields bool
	entries   []listEntry
}

// ParseStaticList parses the raw nvram value. Entries that cannot be
// understood are preserved as-is.
func ParseStaticList(raw string) *StaticList {
	if strings.Contains(raw, "<") && strings.Contains(raw, ">") {
		return parseLegacy(raw)
	}
	return parseColon(raw)
}

func parseLegacy(raw string) *StaticList {
	l := &StaticList{style: styleLegacy}
	for _, chunk := range strings.Split(raw, "<") {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		parts := strings.Split(chunk, ">")
		var b *Binding
		switch {
		case len(parts) == 3:
			b = newBinding(parts[0], parts[1], parts[2], "")
		case len(parts) >= 4:
			b = newBinding(parts[0], parts[1], parts[3], parts[2])
			l.dnsFields = true
		}
		l.entries = append(l.entries, listEntry{raw: chunk, binding: b})
	}
	return l
}

func parseColon(raw string) *StaticList {
	l := &StaticList{style: styleColon, sep: "\t"}
	switch {
	case strings.Contains(raw, "\t"):
	case strings.Contains(raw, ";"):
		l.sep = ";"
	case strings.Contains(raw, "\n"):
		l.sep = "\n"
	}

	for _, chunk := range strings.Split(raw, l.sep) {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		l.entries = append(l.entries, listEntry{raw: chunk, binding: parseColonEntry(chunk)})
	}
	return l
}

// parseColonEntry splits "AA:BB:CC:DD:EE:FF:192.168.1.5:name". The MAC is
// the first six colon groups; the name may itself contain colons.
func parseColonEntry(s string) *Binding {
	parts := strings.Split(s, ":")
	if len(parts) < 7 {
		return nil
	}
	name := ""
	if len(parts) > 7 {
		name = strings.Join(parts[7:], ":")
	}
	return newBinding(strings.Join(parts[:6], ":"), parts[6], name, "")
}

func newBinding(mac, ip, name, dns string) *Binding {
	mac = NormalizeMAC(mac)
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if mac == "" || err != nil {
		return nil
	}
	return &Binding{MAC: mac, Address: addr, Name: strings.TrimSpace(name), DNS: strings.TrimSpace(dns)}
}

// NormalizeMAC returns mac upper-cased in colon notation, or "" when it is
// not a 48-bit MAC.
func NormalizeMAC(mac string) string {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil || len(hw) != 6 {
		return ""
	}
	return strings.ToUpper(hw.String())
}

// Bindings returns the parsed reservations in list order.
func (l *StaticList) Bindings() []Binding {
	out := make([]Binding, 0, len(l.entries))
	for _, e := range l.entries {
		if e.binding != nil {
			out = append(out, *e.binding)
		}
	}
	return out
}

// Len counts all entries, including unparsed ones.
func (l *StaticList) Len() int {
	return len(l.entries)
}

// ByMAC looks up the reservation of mac.
func (l *StaticList) ByMAC(mac string) (Binding, bool) {
	mac = NormalizeMAC(mac)
	for _, e := range l.entries {
		if e.binding != nil && e.binding.MAC == mac {
			return *e.binding, true
		}
	}
	return Binding{}, false
}

// ByAddress looks up the reservation holding addr.
func (l *StaticList) ByAddress(addr netip.Addr) (Binding, bool) {
	for _, e := range l.entries {
		if e.binding != nil && e.binding.Address == addr {
			return *e.binding, true
		}
	}
	return Binding{}, false
}

// Upsert replaces the entry for b.MAC in place or appends a new one.
// It reports whether the list changed.
func (l *StaticList) Upsert(b Binding) bool {
	b.MAC = NormalizeMAC(b.MAC)
	for i, e := range l.entries {
		if e.binding == nil || e.binding.MAC != b.MAC {
			continue
		}
		if b.DNS == "" {
			b.DNS = e.binding.DNS
		}
		if *e.binding == b {
			return false
		}
		l.entries[i] = listEntry{binding: &b}
		return true
	}
	l.entries = append(l.entries, listEntry{binding: &b})
	return true
}

// Remove drops the entry for mac and reports whether one existed.
func (l *StaticList) Remove(mac string) bool {
	mac = NormalizeMAC(mac)
	for i, e := range l.entries {
		if e.binding != nil && e.binding.MAC == mac {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// String formats the list for writing back to nvram.
func (l *StaticList) String() string {
	if l.style == styleLegacy {
		var sb strings.Builder
		for _, e := range l.entries {
			sb.WriteString("<")
			sb.WriteString(l.formatLegacy(e))
		}
		return sb.String()
	}

	parts := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		if e.binding == nil {
			parts = append(parts, e.raw)
			continue
		}
		parts = append(parts, e.binding.MAC+":"+e.binding.Address.String()+":"+e.binding.Name)
	}
	return strings.Join(parts, l.sep)
}

func (l *StaticList) formatLegacy(e listEntry) string {
	if e.binding == nil {
		return e.raw
	}
	b := e.binding
	if l.dnsFields {
		return b.MAC + ">" + b.Address.String() + ">" + b.DNS + ">" + b.Name
	}
	return b.MAC + ">" + b.Address.String() + ">" + b.Name
}
