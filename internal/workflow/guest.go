package workflow

import "time"

// RemoteAccess references the credentials used to reach a guest over SSH.
// Secrets stay in configuration; only the reference is stored.
type RemoteAccess struct {
	User    string `json:"user"`
	Port    int    `json:"port,omitempty"`
	KeyFile string `json:"keyFile,omitempty"`
	// Inherited is set when the guest uses the template's credentials
	// from configuration.
	Inherited bool `json:"inherited,omitempty"`
}

// ManagedGuest is a cloned guest owned by a user.
type ManagedGuest struct {
	GuestID       int           `json:"guestId"`
	OwnerID       string        `json:"ownerId"`
	DisplayName   string        `json:"displayName"`
	WorldSeed     string        `json:"worldSeed,omitempty"`
	Node          string        `json:"node,omitempty"`
	SourceGuestID int           `json:"sourceGuestId"`
	Address       string        `json:"address,omitempty"`
	MAC           string        `json:"mac,omitempty"`
	RemoteAccess  *RemoteAccess `json:"remoteAccess,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// GuestFromWorkflow builds the managed guest record for a cloned workflow.
func GuestFromWorkflow(w *Workflow, now time.Time) *ManagedGuest {
	return &ManagedGuest{
		GuestID:       w.GuestID,
		OwnerID:       w.OwnerID,
		DisplayName:   w.RequestedName,
		WorldSeed:     w.WorldSeed,
		Node:          w.Node,
		SourceGuestID: w.SourceGuestID,
		Address:       w.AssignedAddress,
		MAC:           w.AssignedMAC,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Copy returns a deep copy.
func (g *ManagedGuest) Copy() *ManagedGuest {
	c := *g
	if g.RemoteAccess != nil {
		ra := *g.RemoteAccess
		c.RemoteAccess = &ra
	}
	return &c
}
