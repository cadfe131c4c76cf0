package router

import (
	"fmt"
	"net/netip"
)

// Binding is one MAC to address reservation.
type Binding struct {
	MAC     string     `json:"mac" yaml:"mac"`
	Address netip.Addr `json:"ip" yaml:"ip"`
	Name    string     `json:"name,omitempty" yaml:"name,omitempty"`
	// DNS is only present in the legacy four field format.
	DNS string `json:"dns,omitempty" yaml:"dns,omitempty"`
}

func (b Binding) String() string {
	return fmt.Sprintf("%s -> %s (%s)", b.MAC, b.Address, b.Name)
}

// RestoreReport summarizes a bulk merge.
type RestoreReport struct {
	Added    []Binding `json:"added"`
	Existing []Binding `json:"existing"`
	Skipped  []Binding `json:"skipped"`
}
