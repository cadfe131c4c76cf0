package provisioning

import (
	"context"
	"net/netip"

	"github.com/imamik/gsclone/internal/platform/proxmox"
	"github.com/imamik/gsclone/internal/platform/router"
)

// computeClient is the subset of the hypervisor API the orchestrator uses.
// Implemented by proxmox.RealClient.
type computeClient interface {
	LocateGuest(ctx context.Context, id int) (proxmox.GuestRef, error)
	Clone(ctx context.Context, req proxmox.CloneRequest) (*proxmox.CloneResult, error)
	PollTask(ctx context.Context, task proxmox.TaskHandle) (*proxmox.TaskStatus, error)
	GetNetworkInfo(ctx context.Context, guest proxmox.GuestRef) (*proxmox.NetworkInfo, error)
	GetGuest(ctx context.Context, guest proxmox.GuestRef) (*proxmox.Guest, error)
	Migrate(ctx context.Context, guest proxmox.GuestRef, target string) (proxmox.TaskHandle, error)
	Start(ctx context.Context, guest proxmox.GuestRef) (proxmox.TaskHandle, error)
}

// addressClient manages DHCP reservations. Implemented by router.RealClient.
type addressClient interface {
	ListBindings(ctx context.Context) ([]router.Binding, error)
	Bind(ctx context.Context, mac string, address netip.Addr, label string) error
	Unbind(ctx context.Context, mac string) error
}

// proxyClient registers game servers with the connection proxy.
// Implemented by velocity.SSHGateway.
type proxyClient interface {
	Register(ctx context.Context, name string, address netip.Addr, port int) error
	Deregister(ctx context.Context, name string) error
}
