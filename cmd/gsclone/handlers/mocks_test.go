package handlers

import (
	"bytes"
	"context"
	"net/netip"
	"sync"
	"testing"

	"github.com/imamik/gsclone/internal/config"
	"github.com/imamik/gsclone/internal/platform/proxmox"
	"github.com/imamik/gsclone/internal/platform/router"
	"github.com/imamik/gsclone/internal/store"
)

// MockCompute is a hypervisor where source 100 lives on pve1 and every
// task succeeds at once.
type MockCompute struct {
	mu sync.Mutex

	VersionFunc func(ctx context.Context) (string, error)
	NodesFunc   func(ctx context.Context) ([]proxmox.Node, error)
	CloneFunc   func(ctx context.Context, req proxmox.CloneRequest) (*proxmox.CloneResult, error)

	CloneCalls []proxmox.CloneRequest
}

func (m *MockCompute) Version(ctx context.Context) (string, error) {
	if m.VersionFunc != nil {
		return m.VersionFunc(ctx)
	}
	return "8.2.4", nil
}

func (m *MockCompute) Nodes(ctx context.Context) ([]proxmox.Node, error) {
	if m.NodesFunc != nil {
		return m.NodesFunc(ctx)
	}
	return []proxmox.Node{{Name: "pve1", Status: "online"}, {Name: "pve2", Status: "online"}}, nil
}

func (m *MockCompute) Storages(context.Context, string) ([]proxmox.Storage, error) {
	return []proxmox.Storage{{Name: "local-lvm", Content: "images,rootdir", Avail: 100 << 30}}, nil
}

func (m *MockCompute) ListGuests(context.Context) ([]proxmox.Guest, error) { return nil, nil }

func (m *MockCompute) LocateGuest(_ context.Context, id int) (proxmox.GuestRef, error) {
	return proxmox.GuestRef{Node: "pve1", ID: id, Type: proxmox.GuestQEMU}, nil
}

func (m *MockCompute) NextID(context.Context) (int, error) { return 101, nil }

func (m *MockCompute) Clone(ctx context.Context, req proxmox.CloneRequest) (*proxmox.CloneResult, error) {
	m.mu.Lock()
	m.CloneCalls = append(m.CloneCalls, req)
	m.mu.Unlock()
	if m.CloneFunc != nil {
		return m.CloneFunc(ctx, req)
	}
	return &proxmox.CloneResult{
		Guest: proxmox.GuestRef{Node: "pve1", ID: 101, Type: proxmox.GuestQEMU},
		Task:  proxmox.TaskHandle{Node: "pve1", UPID: "UPID:pve1:clone"},
	}, nil
}

func (m *MockCompute) Migrate(_ context.Context, guest proxmox.GuestRef, _ string) (proxmox.TaskHandle, error) {
	return proxmox.TaskHandle{Node: guest.Node, UPID: "UPID:migrate"}, nil
}

func (m *MockCompute) Start(_ context.Context, guest proxmox.GuestRef) (proxmox.TaskHandle, error) {
	return proxmox.TaskHandle{Node: guest.Node, UPID: "UPID:start"}, nil
}

func (m *MockCompute) GetGuest(_ context.Context, guest proxmox.GuestRef) (*proxmox.Guest, error) {
	return &proxmox.Guest{GuestRef: guest, Status: "stopped"}, nil
}

func (m *MockCompute) GetNetworkInfo(context.Context, proxmox.GuestRef) (*proxmox.NetworkInfo, error) {
	return &proxmox.NetworkInfo{Device: "net0", MAC: "BC:24:11:00:00:01", Bridge: "vmbr0"}, nil
}

func (m *MockCompute) PollTask(context.Context, proxmox.TaskHandle) (*proxmox.TaskStatus, error) {
	return &proxmox.TaskStatus{ExitStatus: "OK"}, nil
}

func (m *MockCompute) clones() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CloneCalls)
}

// MockRouter holds reservations in memory.
type MockRouter struct {
	mu sync.Mutex

	Bindings     []router.Binding
	RestoreCalls [][]router.Binding
}

func (m *MockRouter) ListBindings(context.Context) ([]router.Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]router.Binding(nil), m.Bindings...), nil
}

func (m *MockRouter) Bind(_ context.Context, mac string, address netip.Addr, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Bindings = append(m.Bindings, router.Binding{MAC: mac, Address: address, Name: label})
	return nil
}

func (m *MockRouter) Unbind(_ context.Context, mac string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range m.Bindings {
		if b.MAC == mac {
			m.Bindings = append(m.Bindings[:i], m.Bindings[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MockRouter) Restore(_ context.Context, bindings []router.Binding) (*router.RestoreReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RestoreCalls = append(m.RestoreCalls, bindings)
	rep := &router.RestoreReport{}
	for _, b := range bindings {
		if b.MAC == "" {
			rep.Skipped = append(rep.Skipped, b)
			continue
		}
		rep.Added = append(rep.Added, b)
		m.Bindings = append(m.Bindings, b)
	}
	return rep, nil
}

// testConfig is a minimal configuration with every optional backend off.
func testConfig() *config.Config {
	cfg := &config.Config{
		Proxmox: config.ProxmoxConfig{
			URL:         "https://pve.lan:8006",
			Node:        "pve1",
			TokenID:     "root@pam!gsclone",
			TokenSecret: "secret",
		},
		Store: config.StoreConfig{Backend: "file", Dir: "/unused"},
	}
	cfg.ApplyDefaults()
	return cfg
}

// testEnv swaps the factories for in-memory fakes and captures stdout.
type testEnv struct {
	cfg     *config.Config
	compute *MockCompute
	router  *MockRouter
	store   *store.Memory
	out     *bytes.Buffer
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("GSCLONE_TASK_POLL_INTERVAL", "1ms")
	t.Setenv("GSCLONE_TIMEOUT_SETTLE", "1ms")

	e := &testEnv{
		cfg:     testConfig(),
		compute: &MockCompute{},
		router:  &MockRouter{},
		store:   store.NewMemory(),
		out:     &bytes.Buffer{},
	}

	origLoad, origFind := loadConfigFile, findConfigFile
	origCompute, origRouter, origProxy := newCompute, newRouter, newProxy
	origStore, origTerminal, origStdout := openStore, isTerminal, stdout
	t.Cleanup(func() {
		loadConfigFile, findConfigFile = origLoad, origFind
		newCompute, newRouter, newProxy = origCompute, origRouter, origProxy
		openStore, isTerminal, stdout = origStore, origTerminal, origStdout
	})

	loadConfigFile = func(string) (*config.Config, error) { return e.cfg, nil }
	findConfigFile = func() (string, error) { return "gsclone.yaml", nil }
	newCompute = func(config.ProxmoxConfig) proxmox.Client { return e.compute }
	newRouter = func(config.RouterConfig) router.Client { return e.router }
	openStore = func(context.Context, config.StoreConfig) (store.Store, error) { return e.store, nil }
	isTerminal = func() bool { return false }
	stdout = e.out
	return e
}
