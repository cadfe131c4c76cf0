package provisioning

import (
	"context"
	"net/netip"
	"sync"

	"github.com/imamik/gsclone/internal/platform/gameserver"
	"github.com/imamik/gsclone/internal/platform/proxmox"
	"github.com/imamik/gsclone/internal/platform/router"
)

// MockCompute is a mock hypervisor. By default it clones source 100 on
// node pve1 into guest 101 and every task succeeds immediately.
type MockCompute struct {
	mu sync.Mutex

	LocateGuestFunc    func(ctx context.Context, id int) (proxmox.GuestRef, error)
	CloneFunc          func(ctx context.Context, req proxmox.CloneRequest) (*proxmox.CloneResult, error)
	PollTaskFunc       func(ctx context.Context, task proxmox.TaskHandle) (*proxmox.TaskStatus, error)
	GetNetworkInfoFunc func(ctx context.Context, guest proxmox.GuestRef) (*proxmox.NetworkInfo, error)
	GetGuestFunc       func(ctx context.Context, guest proxmox.GuestRef) (*proxmox.Guest, error)
	MigrateFunc        func(ctx context.Context, guest proxmox.GuestRef, target string) (proxmox.TaskHandle, error)
	StartFunc          func(ctx context.Context, guest proxmox.GuestRef) (proxmox.TaskHandle, error)

	CloneCalls          []proxmox.CloneRequest
	PollTaskCalls       []proxmox.TaskHandle
	GetNetworkInfoCalls []proxmox.GuestRef
	MigrateCalls        []MigrateCall
	StartCalls          []proxmox.GuestRef
}

// MigrateCall tracks arguments to Migrate.
type MigrateCall struct {
	Guest  proxmox.GuestRef
	Target string
}

func (m *MockCompute) LocateGuest(ctx context.Context, id int) (proxmox.GuestRef, error) {
	if m.LocateGuestFunc != nil {
		return m.LocateGuestFunc(ctx, id)
	}
	return proxmox.GuestRef{Node: "pve1", ID: id, Type: proxmox.GuestQEMU}, nil
}

func (m *MockCompute) Clone(ctx context.Context, req proxmox.CloneRequest) (*proxmox.CloneResult, error) {
	m.mu.Lock()
	m.CloneCalls = append(m.CloneCalls, req)
	m.mu.Unlock()

	if m.CloneFunc != nil {
		return m.CloneFunc(ctx, req)
	}
	id := req.NewID
	if id == 0 {
		id = req.Source.ID + 1
	}
	return &proxmox.CloneResult{
		Guest: proxmox.GuestRef{Node: req.Source.Node, ID: id, Type: req.Source.Type},
		Task:  proxmox.TaskHandle{Node: req.Source.Node, UPID: "UPID:pve1:clone"},
	}, nil
}

func (m *MockCompute) PollTask(ctx context.Context, task proxmox.TaskHandle) (*proxmox.TaskStatus, error) {
	m.mu.Lock()
	m.PollTaskCalls = append(m.PollTaskCalls, task)
	m.mu.Unlock()

	if m.PollTaskFunc != nil {
		return m.PollTaskFunc(ctx, task)
	}
	return &proxmox.TaskStatus{ExitStatus: "OK"}, nil
}

func (m *MockCompute) GetNetworkInfo(ctx context.Context, guest proxmox.GuestRef) (*proxmox.NetworkInfo, error) {
	m.mu.Lock()
	m.GetNetworkInfoCalls = append(m.GetNetworkInfoCalls, guest)
	m.mu.Unlock()

	if m.GetNetworkInfoFunc != nil {
		return m.GetNetworkInfoFunc(ctx, guest)
	}
	return &proxmox.NetworkInfo{Device: "net0", MAC: "bc:24:11:00:00:01", Bridge: "vmbr0"}, nil
}

func (m *MockCompute) GetGuest(ctx context.Context, guest proxmox.GuestRef) (*proxmox.Guest, error) {
	if m.GetGuestFunc != nil {
		return m.GetGuestFunc(ctx, guest)
	}
	return &proxmox.Guest{GuestRef: guest, Status: "stopped"}, nil
}

func (m *MockCompute) Migrate(ctx context.Context, guest proxmox.GuestRef, target string) (proxmox.TaskHandle, error) {
	m.mu.Lock()
	m.MigrateCalls = append(m.MigrateCalls, MigrateCall{Guest: guest, Target: target})
	m.mu.Unlock()

	if m.MigrateFunc != nil {
		return m.MigrateFunc(ctx, guest, target)
	}
	return proxmox.TaskHandle{Node: guest.Node, UPID: "UPID:migrate"}, nil
}

func (m *MockCompute) Start(ctx context.Context, guest proxmox.GuestRef) (proxmox.TaskHandle, error) {
	m.mu.Lock()
	m.StartCalls = append(m.StartCalls, guest)
	m.mu.Unlock()

	if m.StartFunc != nil {
		return m.StartFunc(ctx, guest)
	}
	return proxmox.TaskHandle{Node: guest.Node, UPID: "UPID:start"}, nil
}

func (m *MockCompute) calls() (clones, migrates, starts, macLookups int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CloneCalls), len(m.MigrateCalls), len(m.StartCalls), len(m.GetNetworkInfoCalls)
}

// MockAddresses is a mock router holding bindings in memory.
type MockAddresses struct {
	mu sync.Mutex

	ListBindingsFunc func(ctx context.Context) ([]router.Binding, error)
	BindFunc         func(ctx context.Context, mac string, address netip.Addr, label string) error
	UnbindFunc       func(ctx context.Context, mac string) error

	Bindings    []router.Binding
	BindCalls   []BindCall
	UnbindCalls []string
}

// BindCall tracks arguments to Bind.
type BindCall struct {
	MAC     string
	Address netip.Addr
	Label   string
}

func (m *MockAddresses) ListBindings(ctx context.Context) ([]router.Binding, error) {
	if m.ListBindingsFunc != nil {
		return m.ListBindingsFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]router.Binding(nil), m.Bindings...), nil
}

func (m *MockAddresses) Bind(ctx context.Context, mac string, address netip.Addr, label string) error {
	m.mu.Lock()
	m.BindCalls = append(m.BindCalls, BindCall{MAC: mac, Address: address, Label: label})
	m.mu.Unlock()

	if m.BindFunc != nil {
		return m.BindFunc(ctx, mac, address, label)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Bindings = append(m.Bindings, router.Binding{MAC: mac, Address: address, Name: label})
	return nil
}

func (m *MockAddresses) Unbind(ctx context.Context, mac string) error {
	m.mu.Lock()
	m.UnbindCalls = append(m.UnbindCalls, mac)
	m.mu.Unlock()

	if m.UnbindFunc != nil {
		return m.UnbindFunc(ctx, mac)
	}
	return nil
}

func (m *MockAddresses) bindCalls() []BindCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BindCall(nil), m.BindCalls...)
}

// MockProxy is a mock proxy gateway.
type MockProxy struct {
	mu sync.Mutex

	RegisterFunc   func(ctx context.Context, name string, address netip.Addr, port int) error
	DeregisterFunc func(ctx context.Context, name string) error

	RegisterCalls   []string
	DeregisterCalls []string
}

func (m *MockProxy) Register(ctx context.Context, name string, address netip.Addr, port int) error {
	m.mu.Lock()
	m.RegisterCalls = append(m.RegisterCalls, name+"="+netip.AddrPortFrom(address, uint16(port)).String())
	m.mu.Unlock()

	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, name, address, port)
	}
	return nil
}

func (m *MockProxy) Deregister(ctx context.Context, name string) error {
	m.mu.Lock()
	m.DeregisterCalls = append(m.DeregisterCalls, name)
	m.mu.Unlock()

	if m.DeregisterFunc != nil {
		return m.DeregisterFunc(ctx, name)
	}
	return nil
}

// MockConnector hands out MockSessions that record commands.
type MockConnector struct {
	mu sync.Mutex

	ConnectFunc func(ctx context.Context, host string, creds gameserver.Credentials) (gameserver.Session, error)
	RunFunc     func(command string) (string, error)

	ConnectCalls []string
	Commands     []string
}

func (m *MockConnector) Connect(ctx context.Context, host string, creds gameserver.Credentials) (gameserver.Session, error) {
	m.mu.Lock()
	m.ConnectCalls = append(m.ConnectCalls, creds.User+"@"+host)
	m.mu.Unlock()

	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx, host, creds)
	}
	return &mockSession{parent: m, host: host}, nil
}

func (m *MockConnector) commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Commands...)
}

type mockSession struct {
	parent *MockConnector
	host   string
}

func (s *mockSession) Run(_ context.Context, command string) (string, error) {
	s.parent.mu.Lock()
	s.parent.Commands = append(s.parent.Commands, command)
	fn := s.parent.RunFunc
	s.parent.mu.Unlock()
	if fn != nil {
		return fn(command)
	}
	return "", nil
}

func (s *mockSession) RunWithInput(ctx context.Context, command string, input []byte) (string, error) {
	return s.Run(ctx, command+" <<< "+string(input))
}

func (s *mockSession) Host() string { return s.host }
func (s *mockSession) Close() error { return nil }
