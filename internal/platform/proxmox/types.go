package proxmox

import (
	"fmt"
	"strings"
)

// GuestType is the kind of guest: a QEMU VM or an LXC container.
type GuestType string

// Guest types as reported by /cluster/resources.
const (
	GuestQEMU GuestType = "qemu"
	GuestLXC  GuestType = "lxc"
)

// GuestRef locates a guest in the cluster.
type GuestRef struct {
	Node string    `json:"node"`
	ID   int       `json:"id"`
	Type GuestType `json:"type"`
}

func (r GuestRef) String() string {
	return fmt.Sprintf("%s/%s/%d", r.Node, r.Type, r.ID)
}

func (r GuestRef) path() string {
	t := r.Type
	if t == "" {
		t = GuestQEMU
	}
	return fmt.Sprintf("/nodes/%s/%s/%d", r.Node, t, r.ID)
}

// Guest is the observable state of a guest.
type Guest struct {
	GuestRef
	Name     string
	Status   string // running, stopped, ...
	Lock     string // non-empty while a clone, migrate or backup holds the guest
	Template bool
}

// Running reports whether the guest is powered on.
func (g *Guest) Running() bool {
	return g.Status == "running"
}

// Locked reports whether an operation still holds the guest.
func (g *Guest) Locked() bool {
	return g.Lock != ""
}

// Node is a cluster member.
type Node struct {
	Name   string  `json:"node"`
	Status string  `json:"status"`
	CPU    float64 `json:"cpu"`
	MaxCPU int     `json:"maxcpu"`
	Mem    int64   `json:"mem"`
	MaxMem int64   `json:"maxmem"`
}

// Online reports whether the node is reachable by the cluster.
func (n Node) Online() bool {
	return n.Status == "online"
}

// Storage is a storage pool as seen by one node.
type Storage struct {
	Name    string `json:"storage"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Active  int    `json:"active"`
	Avail   int64  `json:"avail"`
	Total   int64  `json:"total"`
}

// SupportsImages reports whether guest disks can be placed on the storage.
func (s Storage) SupportsImages() bool {
	for _, c := range strings.Split(s.Content, ",") {
		if c == "images" || c == "rootdir" {
			return true
		}
	}
	return false
}

// CloneRequest describes a full clone of Source.
type CloneRequest struct {
	Source GuestRef
	// NewID is the id of the clone. Zero asks the cluster for the next free id.
	NewID   int
	Name    string
	Target  string // target node; empty clones onto the source node
	Storage string // target storage; empty keeps the source storage
}

// CloneResult is returned by Clone.
type CloneResult struct {
	Guest GuestRef
	Task  TaskHandle
}

// TaskHandle identifies an asynchronous task.
type TaskHandle struct {
	Node string `json:"node"`
	UPID string `json:"upid"`
}

// IsZero reports whether the handle is unset.
func (h TaskHandle) IsZero() bool {
	return h.UPID == ""
}

// TaskStatus is a snapshot of an asynchronous task.
type TaskStatus struct {
	Running    bool
	ExitStatus string
	// Percent is set when the task reports its own progress.
	Percent *float64
	// LogLines holds the tail of the task log while the task is running.
	LogLines []string
}

// Terminal reports whether the task has finished.
func (s *TaskStatus) Terminal() bool {
	return !s.Running
}

// Succeeded reports whether the task finished with exit status OK.
func (s *TaskStatus) Succeeded() bool {
	return !s.Running && s.ExitStatus == "OK"
}

// NetworkInfo is the first network device of a guest.
type NetworkInfo struct {
	Device string // net0, net1, ...
	MAC    string
	Bridge string
	Model  string
}
