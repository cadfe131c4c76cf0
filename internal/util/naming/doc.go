// Package naming derives the names a guest is known by outside the
// hypervisor: its proxy server entry and its DHCP reservation label.
//
// Both are derived from the guest's display name, which is validated as a
// hostname label on request admission.
package naming
