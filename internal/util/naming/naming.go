package naming

import "strings"

// reservationLabelMax is the longest label the router UI accepts.
const reservationLabelMax = 32

// ProxyServer returns the key of the guest's entry in the proxy's server
// table. The proxy matches server names case-sensitively, so they are
// lowercased to keep one entry per guest.
func ProxyServer(displayName string) string {
	return strings.ToLower(displayName)
}

// ReservationLabel returns the name stored next to a guest's DHCP
// reservation.
func ReservationLabel(displayName string) string {
	label := strings.ToLower(displayName)
	if len(label) > reservationLabelMax {
		label = strings.TrimRight(label[:reservationLabelMax], "-")
	}
	return label
}
