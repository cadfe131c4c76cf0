package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go4.org/netipx"

	"github.com/imamik/gsclone/internal/config"
	"github.com/imamik/gsclone/internal/platform/gameserver"
	"github.com/imamik/gsclone/internal/platform/proxmox"
	"github.com/imamik/gsclone/internal/platform/router"
	"github.com/imamik/gsclone/internal/progress"
	"github.com/imamik/gsclone/internal/store"
	"github.com/imamik/gsclone/internal/workflow"
)

var t0 = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func testTimeouts() *config.Timeouts {
	return &config.Timeouts{
		Clone:              time.Second,
		Migrate:            time.Second,
		Start:              time.Second,
		Settle:             10 * time.Millisecond,
		TaskPollInterval:   time.Millisecond,
		MACLookupAttempts:  3,
		MACLookupInterval:  time.Millisecond,
		WorldResetAttempts: 1,
		WorldResetDelay:    time.Millisecond,
	}
}

func testSettings() Settings {
	return Settings{
		MaxGuestsPerOwner: 3,
		AddressRange: netipx.IPRangeFrom(
			netip.MustParseAddr("192.168.1.240"), netip.MustParseAddr("192.168.1.250")),
		Credentials: &gameserver.Credentials{User: "mc", Password: "pw", Port: 22},
		Reset: gameserver.ResetOptions{
			ServiceName:    "minecraft",
			Dir:            "/opt/minecraft",
			WorldDirs:      []string{"world"},
			PropertiesFile: "server.properties",
			LevelName:      "world",
			StartAfter:     true,
		},
		GamePort:    25565,
		ProgressTTL: time.Minute,
	}
}

// recordingProgress keeps every published entry.
type recordingProgress struct {
	*progress.Memory

	mu      sync.Mutex
	entries []progress.Entry
}

func (p *recordingProgress) Publish(token string, e progress.Entry) {
	p.mu.Lock()
	p.entries = append(p.entries, e)
	p.mu.Unlock()
	p.Memory.Publish(token, e)
}

func (p *recordingProgress) published() []progress.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]progress.Entry(nil), p.entries...)
}

type harness struct {
	compute   *MockCompute
	addresses *MockAddresses
	proxy     *MockProxy
	connector *MockConnector
	store     *store.Memory
	progress  *recordingProgress
	orch      *Orchestrator
}

func newHarness(t *testing.T, mutate ...func(*Settings)) *harness {
	t.Helper()
	settings := testSettings()
	for _, m := range mutate {
		m(&settings)
	}
	h := &harness{
		compute:   &MockCompute{},
		addresses: &MockAddresses{},
		proxy:     &MockProxy{},
		connector: &MockConnector{},
		store:     store.NewMemory(),
		progress:  &recordingProgress{Memory: progress.NewMemory()},
	}
	t.Cleanup(h.progress.Close)
	h.orch = NewOrchestrator(h.compute, h.store, settings,
		WithAddressGateway(h.addresses),
		WithConnector(h.connector),
		WithProxyGateway(h.proxy),
		WithProgress(h.progress),
		WithTimeouts(testTimeouts()),
		WithClock(func() time.Time { return t0 }),
		WithMetrics(false),
	)
	return h
}

func defaultRequest() Request {
	return Request{OwnerID: "u1", SourceGuestID: 100, Name: "srv-a", Seed: "42"}
}

func TestProvision_CompletesGuest(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.orch.Provision(ctx, defaultRequest())
	require.NoError(t, err)

	assert.Equal(t, 101, out.GuestID)
	assert.Equal(t, workflow.StatusCompleted, out.Status)
	assert.Equal(t, "192.168.1.240", out.Address)
	assert.False(t, out.CanRetry)
	assert.Empty(t, out.Warnings)
	assert.Equal(t, StepResults{
		Cloned:           true,
		AddressReserved:  true,
		Started:          true,
		RemoteConfigured: true,
		WorldConfigured:  true,
		ProxyRegistered:  true,
	}, out.Steps)

	w, err := h.store.GetWorkflow(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, w.Status)
	assert.Equal(t, 100, w.ProgressPercent)
	assert.Equal(t, "42", w.WorldSeed)
	assert.Equal(t, "UPID:pve1:clone", w.CloneTask.UPID)
	require.NotNil(t, w.CompletedAt)

	g, err := h.store.GetGuest(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "u1", g.OwnerID)
	assert.Equal(t, "srv-a", g.DisplayName)
	assert.Equal(t, "42", g.WorldSeed)
	assert.Equal(t, "192.168.1.240", g.Address)
	assert.Equal(t, "BC:24:11:00:00:01", g.MAC)
	require.NotNil(t, g.RemoteAccess)
	assert.True(t, g.RemoteAccess.Inherited)

	live, err := h.orch.GetLiveProgress(out.Token)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, live.Status)
	assert.Equal(t, 100, live.ProgressPercent)
	assert.Equal(t, 101, live.GuestID)

	require.Len(t, h.addresses.bindCalls(), 1)
	assert.Equal(t, BindCall{MAC: "BC:24:11:00:00:01", Address: netip.MustParseAddr("192.168.1.240"), Label: "srv-a"},
		h.addresses.bindCalls()[0])
	assert.Equal(t, []string{"srv-a=192.168.1.240:25565"}, h.proxy.RegisterCalls)
	assert.Equal(t, []string{"mc@192.168.1.240"}, h.connector.ConnectCalls)

	cmds := h.connector.commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, "systemctl stop minecraft", cmds[0])
	assert.Equal(t, "systemctl start minecraft", cmds[len(cmds)-1])
	assert.True(t, containsAny(cmds, "level-seed=42"))
}

func containsAny(cmds []string, sub string) bool {
	for _, c := range cmds {
		if strings.Contains(c, sub) {
			return true
		}
	}
	return false
}

func TestProvision_ProgressIsMonotonic(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var polls atomic.Int32
	h.compute.PollTaskFunc = func(context.Context, proxmox.TaskHandle) (*proxmox.TaskStatus, error) {
		switch polls.Add(1) {
		case 1:
			return &proxmox.TaskStatus{Running: true, LogLines: []string{"create full clone of drive scsi0"}}, nil
		case 2:
			return &proxmox.TaskStatus{Running: true, LogLines: []string{"transferred 8.0 GiB of 32.0 GiB (25.00%)"}}, nil
		case 3:
			return &proxmox.TaskStatus{Running: true, LogLines: []string{"transferred 4.0 GiB of 32.0 GiB (12.50%)"}}, nil
		case 4:
			return &proxmox.TaskStatus{Running: true, LogLines: []string{"(25.00%)", "transferred 16.0 GiB of 32.0 GiB (50.00%)"}}, nil
		default:
			return &proxmox.TaskStatus{ExitStatus: "OK"}, nil
		}
	}

	out, err := h.orch.Provision(context.Background(), defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, out.Status)

	entries := h.progress.published()
	require.NotEmpty(t, entries)
	prev := 0
	seen := map[int]bool{}
	for _, e := range entries {
		assert.GreaterOrEqual(t, e.ProgressPercent, prev, "progress went backwards at %s", e.CurrentStep)
		prev = e.ProgressPercent
		seen[e.ProgressPercent] = true
	}
	assert.True(t, seen[scaleClonePercent(25)])
	assert.True(t, seen[scaleClonePercent(50)])
	assert.Equal(t, 100, prev)
}

func TestProvision_RejectsBeforeClone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     func() Request
		setup   func(h *harness)
		wantErr error
		retry   bool
	}{
		{
			name:    "missing owner",
			req:     func() Request { r := defaultRequest(); r.OwnerID = ""; return r },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "bad name",
			req:     func() Request { r := defaultRequest(); r.Name = "srv a;rm"; return r },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "bad token",
			req:     func() Request { r := defaultRequest(); r.Token = "nope"; return r },
			wantErr: ErrInvalidRequest,
		},
		{
			name: "quota",
			req:  defaultRequest,
			setup: func(h *harness) {
				for id := 200; id < 203; id++ {
					require.NoError(t, h.store.SaveGuest(context.Background(), &workflow.ManagedGuest{GuestID: id, OwnerID: "u1"}))
				}
			},
			wantErr: ErrQuotaExceeded,
		},
		{
			name: "router down",
			req:  defaultRequest,
			setup: func(h *harness) {
				h.addresses.ListBindingsFunc = func(context.Context) ([]router.Binding, error) {
					return nil, errors.New("connection refused")
				}
			},
			wantErr: ErrAddressGatewayUnavailable,
			retry:   true,
		},
		{
			name: "pool exhausted",
			req:  defaultRequest,
			setup: func(h *harness) {
				for a := netip.MustParseAddr("192.168.1.240"); a.Compare(netip.MustParseAddr("192.168.1.250")) <= 0; a = a.Next() {
					h.addresses.Bindings = append(h.addresses.Bindings, router.Binding{MAC: "AA:BB:CC:00:00:01", Address: a})
				}
			},
			wantErr: ErrAddressPoolExhausted,
		},
		{
			name: "unknown source",
			req:  defaultRequest,
			setup: func(h *harness) {
				h.compute.LocateGuestFunc = func(_ context.Context, id int) (proxmox.GuestRef, error) {
					return proxmox.GuestRef{}, proxmox.ErrGuestNotFound
				}
			},
			wantErr: ErrSourceNotFound,
		},
		{
			name: "clone request refused",
			req:  defaultRequest,
			setup: func(h *harness) {
				h.compute.CloneFunc = func(context.Context, proxmox.CloneRequest) (*proxmox.CloneResult, error) {
					return nil, &proxmox.APIError{StatusCode: 500, Message: "storage full"}
				}
			},
			wantErr: ErrCloneFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}

			out, err := h.orch.Provision(context.Background(), tt.req())
			require.ErrorIs(t, err, tt.wantErr)
			require.NotNil(t, out)
			assert.Zero(t, out.GuestID)
			assert.Equal(t, workflow.StatusFailed, out.Status)
			assert.Equal(t, tt.retry, out.CanRetry)

			ws, err := h.store.ListWorkflows(context.Background())
			require.NoError(t, err)
			assert.Empty(t, ws, "no workflow record before the clone")
			assert.Empty(t, h.addresses.bindCalls())

			live, err := h.orch.GetLiveProgress(out.Token)
			require.NoError(t, err)
			assert.Equal(t, workflow.StatusFailed, live.Status)
		})
	}
}

func TestProvision_RejectedCloneReleasesAddress(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var calls atomic.Int32
	h.compute.CloneFunc = func(_ context.Context, req proxmox.CloneRequest) (*proxmox.CloneResult, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("busy")
		}
		return &proxmox.CloneResult{
			Guest: proxmox.GuestRef{Node: "pve1", ID: 101, Type: proxmox.GuestQEMU},
			Task:  proxmox.TaskHandle{Node: "pve1", UPID: "UPID:pve1:clone"},
		}, nil
	}

	_, err := h.orch.Provision(context.Background(), defaultRequest())
	require.ErrorIs(t, err, ErrCloneFailed)

	out, err := h.orch.Provision(context.Background(), defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.240", out.Address)
}

func TestProvision_SkipsHeldAddresses(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.addresses.Bindings = []router.Binding{
		{MAC: "AA:BB:CC:00:00:01", Address: netip.MustParseAddr("192.168.1.240")},
	}
	paused := workflow.New(150, "u2", "other", 100, t0)
	paused.AssignedAddress = "192.168.1.241"
	paused.MarkCloned("pve1")
	require.NoError(t, paused.Pause(workflow.StepAddressReservation, errors.New("no mac"), t0))
	require.NoError(t, h.store.SaveWorkflow(ctx, paused))

	cloneFailed := workflow.New(151, "u2", "gone", 100, t0)
	cloneFailed.AssignedAddress = "192.168.1.242"
	require.NoError(t, cloneFailed.Fail(workflow.StepCloning, errors.New("boom"), t0))
	require.NoError(t, h.store.SaveWorkflow(ctx, cloneFailed))

	out, err := h.orch.Provision(ctx, defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.242", out.Address)
}

func TestProvision_ConcurrentRequestsGetDistinctAddresses(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(s *Settings) { s.MaxGuestsPerOwner = 10 })

	var nextID atomic.Int32
	nextID.Store(200)
	h.compute.CloneFunc = func(_ context.Context, req proxmox.CloneRequest) (*proxmox.CloneResult, error) {
		id := int(nextID.Add(1))
		return &proxmox.CloneResult{
			Guest: proxmox.GuestRef{Node: "pve1", ID: id, Type: proxmox.GuestQEMU},
			Task:  proxmox.TaskHandle{Node: "pve1", UPID: "UPID:pve1:clone"},
		}, nil
	}
	var macs atomic.Int32
	h.compute.GetNetworkInfoFunc = func(context.Context, proxmox.GuestRef) (*proxmox.NetworkInfo, error) {
		n := macs.Add(1)
		return &proxmox.NetworkInfo{MAC: testMAC(int(n))}, nil
	}

	var wg sync.WaitGroup
	outs := make([]*Outcome, 4)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := defaultRequest()
			req.Name = "srv-" + string(rune('a'+i))
			out, err := h.orch.Provision(context.Background(), req)
			assert.NoError(t, err)
			outs[i] = out
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, out := range outs {
		require.NotNil(t, out)
		assert.False(t, seen[out.Address], "address %s handed out twice", out.Address)
		seen[out.Address] = true
	}
}

func testMAC(n int) string {
	return fmt.Sprintf("BC:24:11:00:00:%02X", n)
}

func TestProvision_CloneTaskFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.compute.PollTaskFunc = func(context.Context, proxmox.TaskHandle) (*proxmox.TaskStatus, error) {
		return &proxmox.TaskStatus{ExitStatus: "clone failed", LogLines: []string{"ERROR: no space left on device", ""}}, nil
	}

	out, err := h.orch.Provision(context.Background(), defaultRequest())
	require.ErrorIs(t, err, ErrCloneFailed)
	assert.Contains(t, err.Error(), "no space left")
	assert.Equal(t, 101, out.GuestID)
	assert.Equal(t, workflow.StatusFailed, out.Status)
	assert.False(t, out.CanRetry)

	w, err := h.store.GetWorkflow(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, w.Status)
	assert.Equal(t, workflow.StepCloning, w.ErrorStep)
	assert.False(t, w.Cloned)

	_, err = h.store.GetGuest(context.Background(), 101)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = h.orch.Resume(context.Background(), 101)
	require.ErrorIs(t, err, ErrNotResumable)
}

func TestProvision_CloneNotResolved(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.orch.timeouts.Clone = 30 * time.Millisecond
	h.compute.PollTaskFunc = func(context.Context, proxmox.TaskHandle) (*proxmox.TaskStatus, error) {
		return &proxmox.TaskStatus{Running: true}, nil
	}

	out, err := h.orch.Provision(context.Background(), defaultRequest())
	require.ErrorIs(t, err, ErrCloneNotResolved)
	assert.Equal(t, 101, out.GuestID)
	assert.True(t, out.CanRetry)

	w, err := h.store.GetWorkflow(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusInProgress, w.Status)
	assert.Equal(t, workflow.StepCloning, w.CurrentStep)
	assert.Equal(t, "UPID:pve1:clone", w.CloneTask.UPID)

	_, err = h.store.GetGuest(context.Background(), 101)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestResume_UnresolvedCloneContinues(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.orch.timeouts.Clone = 30 * time.Millisecond

	var finished atomic.Bool
	h.compute.PollTaskFunc = func(context.Context, proxmox.TaskHandle) (*proxmox.TaskStatus, error) {
		if finished.Load() {
			return &proxmox.TaskStatus{ExitStatus: "OK"}, nil
		}
		return &proxmox.TaskStatus{Running: true}, nil
	}

	_, err := h.orch.Provision(ctx, defaultRequest())
	require.ErrorIs(t, err, ErrCloneNotResolved)

	// Still running: the status poll leaves it for Resume.
	status, err := h.orch.GetWorkflowStatus(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusInProgress, status.Workflow.Status)
	assert.True(t, status.CanRetry)

	finished.Store(true)
	out, err := h.orch.Resume(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, out.Status)
	assert.Equal(t, "192.168.1.240", out.Address)
	assert.True(t, out.Steps.Cloned)
	assert.True(t, out.Steps.ProxyRegistered)

	clones, _, starts, _ := h.compute.calls()
	assert.Equal(t, 1, clones, "the clone is not requested twice")
	assert.Equal(t, 1, starts)

	w, err := h.store.GetWorkflow(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, w.Status)
	assert.True(t, w.AddressReserved)

	g, err := h.store.GetGuest(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.240", g.Address)
}

func TestGetWorkflowStatus_UnresolvedCloneFailed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.orch.timeouts.Clone = 30 * time.Millisecond

	var ended atomic.Bool
	h.compute.PollTaskFunc = func(context.Context, proxmox.TaskHandle) (*proxmox.TaskStatus, error) {
		if ended.Load() {
			return &proxmox.TaskStatus{ExitStatus: "clone failed", LogLines: []string{"ERROR: storage offline"}}, nil
		}
		return &proxmox.TaskStatus{Running: true}, nil
	}

	_, err := h.orch.Provision(ctx, defaultRequest())
	require.ErrorIs(t, err, ErrCloneNotResolved)

	ended.Store(true)
	status, err := h.orch.GetWorkflowStatus(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, status.Workflow.Status)
	assert.Equal(t, workflow.StepCloning, status.Workflow.ErrorStep)
	assert.Contains(t, status.Workflow.ErrorMessage, "storage offline")
	assert.False(t, status.CanRetry)

	w, err := h.store.GetWorkflow(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, w.Status)

	_, err = h.orch.Resume(ctx, 101)
	require.ErrorIs(t, err, ErrNotResumable)
}

func TestProvision_MACLookupSucceedsWithinBound(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.orch.timeouts.MACLookupAttempts = 4

	var lookups atomic.Int32
	h.compute.GetNetworkInfoFunc = func(context.Context, proxmox.GuestRef) (*proxmox.NetworkInfo, error) {
		if lookups.Add(1) <= 3 {
			return nil, proxmox.ErrNoNetwork
		}
		return &proxmox.NetworkInfo{Device: "net0", MAC: "bc:24:11:00:00:01"}, nil
	}

	out, err := h.orch.Provision(context.Background(), defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, out.Status)
	assert.True(t, out.Steps.AddressReserved)
	assert.Equal(t, int32(4), lookups.Load())
	require.Len(t, h.addresses.bindCalls(), 1)
	assert.Equal(t, "BC:24:11:00:00:01", h.addresses.bindCalls()[0].MAC)
}

func TestProvision_StartWaitsForGuestConfig(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var calls atomic.Int32
	h.compute.GetGuestFunc = func(_ context.Context, ref proxmox.GuestRef) (*proxmox.Guest, error) {
		if calls.Add(1) == 1 {
			return nil, &proxmox.APIError{StatusCode: 500,
				Message: "Configuration file 'nodes/pve1/qemu-server/101.conf' does not exist"}
		}
		return &proxmox.Guest{GuestRef: ref, Status: "stopped"}, nil
	}

	out, err := h.orch.Provision(context.Background(), defaultRequest())
	require.NoError(t, err)
	assert.Empty(t, out.Warnings)
	assert.True(t, out.Steps.Started)
	assert.Equal(t, int32(2), calls.Load())
	_, _, starts, _ := h.compute.calls()
	assert.Equal(t, 1, starts)
}

func TestProvision_StartStopsOnAuthError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var calls atomic.Int32
	h.compute.GetGuestFunc = func(context.Context, proxmox.GuestRef) (*proxmox.Guest, error) {
		calls.Add(1)
		return nil, &proxmox.APIError{StatusCode: 401, Message: "authentication failure"}
	}

	out, err := h.orch.Provision(context.Background(), defaultRequest())
	require.NoError(t, err)
	assert.False(t, out.Steps.Started)
	require.Len(t, out.Warnings, 1)
	assert.Equal(t, workflow.StepStart, out.Warnings[0].Step)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProvision_MACLookupPausesThenResumes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.compute.GetNetworkInfoFunc = func(context.Context, proxmox.GuestRef) (*proxmox.NetworkInfo, error) {
		return nil, proxmox.ErrNoNetwork
	}

	out, err := h.orch.Provision(ctx, defaultRequest())
	require.ErrorIs(t, err, ErrWorkflowPaused)
	assert.Equal(t, 101, out.GuestID)
	assert.Equal(t, workflow.StatusPaused, out.Status)
	assert.True(t, out.CanRetry)

	_, _, _, lookups := h.compute.calls()
	assert.Equal(t, 3, lookups)

	w, err := h.store.GetWorkflow(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, workflow.StepAddressReservation, w.ErrorStep)
	assert.Equal(t, "192.168.1.240", w.AssignedAddress)
	assert.False(t, w.AddressReserved)

	_, err = h.store.GetGuest(ctx, 101)
	require.NoError(t, err, "guest exists once the clone succeeded")

	status, err := h.orch.GetWorkflowStatus(ctx, 101)
	require.NoError(t, err)
	assert.True(t, status.CanRetry)

	h.compute.GetNetworkInfoFunc = nil
	clones, migrates, starts, _ := h.compute.calls()
	connects := len(h.connector.ConnectCalls)

	out, err = h.orch.Resume(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, out.Status)
	assert.Equal(t, "192.168.1.240", out.Address)

	c2, m2, s2, _ := h.compute.calls()
	assert.Equal(t, clones, c2)
	assert.Equal(t, migrates, m2)
	assert.Equal(t, starts, s2)
	assert.Len(t, h.connector.ConnectCalls, connects)
	assert.Empty(t, h.proxy.RegisterCalls)
	assert.Len(t, h.addresses.bindCalls(), 1)

	w, err = h.store.GetWorkflow(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, w.Status)
	assert.Empty(t, w.ErrorMessage)
	assert.True(t, w.AddressReserved)

	g, err := h.store.GetGuest(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.240", g.Address)
}

func TestProvision_BindConflictReselectsOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var calls atomic.Int32
	h.addresses.BindFunc = func(_ context.Context, mac string, addr netip.Addr, label string) error {
		if calls.Add(1) == 1 {
			h.addresses.mu.Lock()
			h.addresses.Bindings = append(h.addresses.Bindings, router.Binding{MAC: "AA:BB:CC:00:00:09", Address: addr})
			h.addresses.mu.Unlock()
			return router.ErrAddressConflict
		}
		return nil
	}

	out, err := h.orch.Provision(context.Background(), defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.241", out.Address)

	binds := h.addresses.bindCalls()
	require.Len(t, binds, 2)
	assert.Equal(t, "192.168.1.240", binds[0].Address.String())
	assert.Equal(t, "192.168.1.241", binds[1].Address.String())
}

func TestProvision_RepeatedConflictPauses(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.addresses.BindFunc = func(context.Context, string, netip.Addr, string) error {
		return router.ErrAddressConflict
	}

	out, err := h.orch.Provision(context.Background(), defaultRequest())
	require.ErrorIs(t, err, ErrWorkflowPaused)
	require.ErrorIs(t, err, router.ErrAddressConflict)
	assert.Equal(t, workflow.StatusPaused, out.Status)
	assert.Len(t, h.addresses.bindCalls(), 2)
}

func TestProvision_BestEffortStepsDoNotFail(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.compute.StartFunc = func(context.Context, proxmox.GuestRef) (proxmox.TaskHandle, error) {
		return proxmox.TaskHandle{}, &proxmox.APIError{StatusCode: 500, Message: "start failed"}
	}
	h.proxy.RegisterFunc = func(context.Context, string, netip.Addr, int) error {
		return errors.New("proxy unreachable")
	}

	out, err := h.orch.Provision(context.Background(), defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, out.Status)
	assert.False(t, out.Steps.Started)
	assert.False(t, out.Steps.ProxyRegistered)
	assert.True(t, out.Steps.WorldConfigured)

	var steps []workflow.Step
	for _, w := range out.Warnings {
		steps = append(steps, w.Step)
	}
	assert.Equal(t, []workflow.Step{workflow.StepStart, workflow.StepProxyRegistration}, steps)
}

func TestProvision_WorldResetFailureIsRecorded(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connector.RunFunc = func(command string) (string, error) {
		if strings.HasPrefix(command, "rm ") {
			return "", errors.New("permission denied")
		}
		return "", nil
	}

	out, err := h.orch.Provision(context.Background(), defaultRequest())
	require.NoError(t, err)
	assert.True(t, out.Steps.RemoteConfigured)
	assert.False(t, out.Steps.WorldConfigured)
	require.Len(t, out.Warnings, 1)
	assert.Equal(t, workflow.StepWorldReset, out.Warnings[0].Step)
	assert.Contains(t, out.Warnings[0].Message, string(gameserver.StepDeleteWorlds))
}

func TestProvision_Placement(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(s *Settings) { s.TargetNode = "pve2" })

	var gets atomic.Int32
	h.compute.GetGuestFunc = func(_ context.Context, ref proxmox.GuestRef) (*proxmox.Guest, error) {
		g := &proxmox.Guest{GuestRef: ref, Status: "stopped"}
		if gets.Add(1) == 1 {
			g.Lock = "clone"
		}
		return g, nil
	}

	out, err := h.orch.Provision(context.Background(), defaultRequest())
	require.NoError(t, err)
	assert.True(t, out.Steps.Migrated)

	require.Len(t, h.compute.MigrateCalls, 1)
	assert.Equal(t, "pve2", h.compute.MigrateCalls[0].Target)
	assert.Equal(t, "pve1", h.compute.MigrateCalls[0].Guest.Node)
	require.Len(t, h.compute.StartCalls, 1)
	assert.Equal(t, "pve2", h.compute.StartCalls[0].Node, "start runs on the new node")

	g, err := h.store.GetGuest(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, "pve2", g.Node)
}

func TestProvision_WithoutOptionalGateways(t *testing.T) {
	t.Parallel()
	compute := &MockCompute{}
	st := store.NewMemory()
	settings := testSettings()
	settings.Credentials = nil

	o := NewOrchestrator(compute, st, settings, WithTimeouts(testTimeouts()), WithClock(func() time.Time { return t0 }))

	out, err := o.Provision(context.Background(), defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, out.Status)
	assert.Empty(t, out.Address)
	assert.Equal(t, StepResults{Cloned: true, Started: true}, out.Steps)

	g, err := st.GetGuest(context.Background(), 101)
	require.NoError(t, err)
	assert.Nil(t, g.RemoteAccess)
}

func TestProvision_CancelledStepFailsAndResumes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.compute.StartFunc = func(context.Context, proxmox.GuestRef) (proxmox.TaskHandle, error) {
		cancel()
		return proxmox.TaskHandle{}, context.Canceled
	}

	out, err := h.orch.Provision(ctx, defaultRequest())
	require.ErrorIs(t, err, ErrWorkflowFailed)
	assert.Equal(t, workflow.StatusFailed, out.Status)
	assert.Equal(t, workflow.StepStart, out.Step)
	assert.True(t, out.CanRetry)

	w, err := h.store.GetWorkflow(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, workflow.StepStart, w.ErrorStep)

	h.compute.StartFunc = nil
	out, err = h.orch.Resume(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, out.Status)
	assert.True(t, out.Steps.Started)
}

func TestResume_RedoFailureStopsAgain(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	w := workflow.New(101, "u1", "srv-a", 100, t0)
	w.Node = "pve1"
	w.MarkCloned("pve1")
	w.MarkAddressReserved("192.168.1.240", "BC:24:11:00:00:01")
	require.NoError(t, w.Fail(workflow.StepProxyRegistration, errors.New("interrupted"), t0))
	require.NoError(t, h.store.SaveWorkflow(ctx, w))

	h.proxy.RegisterFunc = func(context.Context, string, netip.Addr, int) error {
		return errors.New("still down")
	}

	out, err := h.orch.Resume(ctx, 101)
	require.ErrorIs(t, err, ErrWorkflowFailed)
	assert.Equal(t, workflow.StatusFailed, out.Status)
	assert.True(t, out.CanRetry)

	got, err := h.store.GetWorkflow(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, workflow.StepProxyRegistration, got.ErrorStep)
	assert.Contains(t, got.ErrorMessage, "still down")

	// The guest record is rebuilt when missing.
	g, err := h.store.GetGuest(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "srv-a", g.DisplayName)
}

func TestResume_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prepare func(w *workflow.Workflow)
		wantErr error
	}{
		{"in progress", func(*workflow.Workflow) {}, ErrNotResumable},
		{"completed", func(w *workflow.Workflow) {
			w.MarkCloned("pve1")
			_ = w.Complete(t0)
		}, ErrNotResumable},
		{"failed at cloning", func(w *workflow.Workflow) {
			_ = w.Fail(workflow.StepCloning, errors.New("x"), t0)
		}, ErrNotResumable},
		{"failed at finalize", func(w *workflow.Workflow) {
			w.MarkCloned("pve1")
			_ = w.Fail(workflow.StepFinalize, errors.New("x"), t0)
		}, ErrNotResumable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			w := workflow.New(101, "u1", "srv-a", 100, t0)
			tt.prepare(w)
			require.NoError(t, h.store.SaveWorkflow(context.Background(), w))

			_, err := h.orch.Resume(context.Background(), 101)
			require.ErrorIs(t, err, tt.wantErr)

			status, err := h.orch.GetWorkflowStatus(context.Background(), 101)
			require.NoError(t, err)
			assert.False(t, status.CanRetry)
		})
	}

	t.Run("unknown guest", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.orch.Resume(context.Background(), 999)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("busy", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		w := workflow.New(101, "u1", "srv-a", 100, t0)
		w.MarkCloned("pve1")
		require.NoError(t, w.Pause(workflow.StepAddressReservation, errors.New("x"), t0))
		require.NoError(t, h.store.SaveWorkflow(context.Background(), w))

		require.True(t, h.orch.begin(101))
		defer h.orch.end(101)
		_, err := h.orch.Resume(context.Background(), 101)
		require.ErrorIs(t, err, ErrWorkflowBusy)
	})
}

func TestStepTable_CoversEveryStep(t *testing.T) {
	t.Parallel()

	table := newStepTable()
	prev := -1
	for _, step := range workflow.Steps() {
		def, ok := table[step]
		require.True(t, ok, "step %s has no table entry", step)
		assert.GreaterOrEqual(t, def.percent, prev, "step %s percent out of order", step)
		prev = def.percent
		if def.policy == policyWarn || def.policy == policyPause {
			assert.NotNil(t, def.run, "step %s", step)
			assert.NotNil(t, def.resume, "step %s", step)
		}
	}
	assert.Len(t, table, len(workflow.Steps()))

	for _, step := range []workflow.Step{workflow.StepAdmission, workflow.StepAddressCheck, workflow.StepCloning, workflow.StepFinalize} {
		assert.Nil(t, table[step].resume, "step %s must not be resumable", step)
	}
}

func TestAccept_PublishesPendingEntry(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	token := progress.NewToken()

	h.orch.Accept(token)

	e, err := h.orch.GetLiveProgress(token)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusInProgress, e.Status)
	assert.Equal(t, workflow.StepAdmission, e.CurrentStep)
	assert.Zero(t, e.GuestID)
}

func TestGetLiveProgress_Unknown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.orch.GetLiveProgress(progress.NewToken())
	require.ErrorIs(t, err, ErrProgressNotFound)
}

func TestDecommission(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("cleans up", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.orch.Provision(ctx, defaultRequest())
		require.NoError(t, err)

		res, err := h.orch.Decommission(ctx, 101, "u1")
		require.NoError(t, err)
		assert.True(t, res.ProxyDeregistered)
		assert.True(t, res.AddressReleased)
		assert.Empty(t, res.Warnings)
		assert.Equal(t, []string{"srv-a"}, h.proxy.DeregisterCalls)
		assert.Equal(t, []string{"BC:24:11:00:00:01"}, h.addresses.UnbindCalls)

		_, err = h.store.GetGuest(ctx, 101)
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = h.store.GetWorkflow(ctx, 101)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("best effort", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.orch.Provision(ctx, defaultRequest())
		require.NoError(t, err)
		h.addresses.UnbindFunc = func(context.Context, string) error { return router.ErrEmptyList }
		h.proxy.DeregisterFunc = func(context.Context, string) error { return errors.New("ssh down") }

		res, err := h.orch.Decommission(ctx, 101, "")
		require.NoError(t, err)
		assert.False(t, res.ProxyDeregistered)
		assert.False(t, res.AddressReleased)
		assert.Len(t, res.Warnings, 2)

		guests, err := h.orch.ListGuests(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, guests)
	})

	t.Run("other owner", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.orch.Provision(ctx, defaultRequest())
		require.NoError(t, err)

		_, err = h.orch.Decommission(ctx, 101, "u2")
		require.ErrorIs(t, err, ErrNotOwner)
		assert.Empty(t, h.proxy.DeregisterCalls)
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.orch.Decommission(ctx, 101, "u1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestAttachRemoteAccess(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SaveGuest(ctx, &workflow.ManagedGuest{GuestID: 101, OwnerID: "u1"}))

	_, err := h.orch.AttachRemoteAccess(ctx, 101, "u1", workflow.RemoteAccess{User: "mc"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	g, err := h.orch.AttachRemoteAccess(ctx, 101, "u1", workflow.RemoteAccess{User: "mc", KeyFile: "/keys/srv-a", Inherited: true})
	require.NoError(t, err)
	require.NotNil(t, g.RemoteAccess)
	assert.False(t, g.RemoteAccess.Inherited)
	assert.Equal(t, "/keys/srv-a", g.RemoteAccess.KeyFile)

	_, err = h.orch.AttachRemoteAccess(ctx, 101, "u2", workflow.RemoteAccess{User: "mc", KeyFile: "/k"})
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestProvision_RecordsMetrics(t *testing.T) {
	workflowsTotal.Reset()
	stepFailuresTotal.Reset()
	addressClaimsTotal.Reset()

	h := newHarness(t)
	h.orch.enableMetrics = true
	h.proxy.RegisterFunc = func(context.Context, string, netip.Addr, int) error { return errors.New("down") }

	_, err := h.orch.Provision(context.Background(), defaultRequest())
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(workflowsTotal.WithLabelValues("provision", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(stepFailuresTotal.WithLabelValues("proxy_registration", "warn")))
	assert.Equal(t, float64(1), testutil.ToFloat64(addressClaimsTotal.WithLabelValues("claimed")))

	_, err = h.orch.Resume(context.Background(), 999)
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(workflowsTotal.WithLabelValues("resume", "rejected")))
}
