package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/gsclone/internal/config"
	"github.com/imamik/gsclone/internal/platform/proxmox"
	"github.com/imamik/gsclone/internal/platform/router"
)

func doctorReport(t *testing.T, e *testEnv) (DoctorReport, error) {
	t.Helper()
	e.out.Reset()
	err := Doctor(context.Background(), "gsclone.yaml", true)
	var rep DoctorReport
	require.NoError(t, json.Unmarshal(e.out.Bytes(), &rep))
	return rep, err
}

func checkNamed(t *testing.T, rep DoctorReport, name string) CheckEntry {
	t.Helper()
	for _, c := range rep.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q missing from %+v", name, rep.Checks)
	return CheckEntry{}
}

func TestDoctor_Healthy(t *testing.T) {
	e := setupEnv(t)

	rep, err := doctorReport(t, e)
	require.NoError(t, err)
	assert.Equal(t, "gsclone.yaml", rep.ConfigPath)

	assert.True(t, checkNamed(t, rep, "Configuration").OK)
	assert.Equal(t, "version 8.2.4", checkNamed(t, rep, "Proxmox API").Detail)
	assert.Equal(t, "2 of 2 online", checkNamed(t, rep, "Proxmox nodes").Detail)

	creds := checkNamed(t, rep, "Guest credentials")
	assert.True(t, creds.Warning)
	assert.True(t, checkNamed(t, rep, "DHCP reservations").Warning)
	assert.True(t, checkNamed(t, rep, "Velocity proxy").Warning)
}

func TestDoctor_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *testEnv)
		check  string
		detail string
	}{
		{
			name: "api down",
			mutate: func(e *testEnv) {
				e.compute.VersionFunc = func(context.Context) (string, error) { return "", errors.New("connection refused") }
			},
			check:  "Proxmox API",
			detail: "connection refused",
		},
		{
			name:   "unknown target node",
			mutate: func(e *testEnv) { e.cfg.Provisioning.TargetNode = "pve9" },
			check:  "Proxmox nodes",
			detail: `node "pve9" not in cluster`,
		},
		{
			name:   "missing storage",
			mutate: func(e *testEnv) { e.cfg.Proxmox.Storage = "ceph" },
			check:  "Clone storage",
			detail: "storage ceph not found on pve1",
		},
		{
			name: "pool exhausted",
			mutate: func(e *testEnv) {
				e.cfg.Router = config.RouterConfig{
					Enabled: true, URL: "http://192.168.1.1",
					RangeStart: "192.168.1.240", RangeEnd: "192.168.1.240",
				}
				e.router.Bindings = []router.Binding{{MAC: "BC:24:11:00:00:01", Address: netip.MustParseAddr("192.168.1.240")}}
			},
			check:  "DHCP reservations",
			detail: "address pool is exhausted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setupEnv(t)
			tt.mutate(e)

			rep, err := doctorReport(t, e)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "check(s) failed")

			c := checkNamed(t, rep, tt.check)
			assert.False(t, c.OK)
			assert.Contains(t, c.Detail, tt.detail)
		})
	}
}

func TestDoctor_DegradedNodeWarns(t *testing.T) {
	e := setupEnv(t)
	e.compute.NodesFunc = func(context.Context) ([]proxmox.Node, error) {
		return []proxmox.Node{{Name: "pve1", Status: "online"}, {Name: "pve2", Status: "offline"}}, nil
	}

	rep, err := doctorReport(t, e)
	require.NoError(t, err)
	nodes := checkNamed(t, rep, "Proxmox nodes")
	assert.True(t, nodes.Warning)
	assert.Equal(t, "1 of 2 online", nodes.Detail)
}

func TestDoctor_BadConfig(t *testing.T) {
	e := setupEnv(t)
	loadConfigFile = func(string) (*config.Config, error) { return nil, errors.New("proxmox.url: cannot be blank") }

	rep, err := doctorReport(t, e)
	require.Error(t, err)
	require.Len(t, rep.Checks, 1)
	assert.Contains(t, rep.Checks[0].Detail, "cannot be blank")
}

func TestDoctor_Rendered(t *testing.T) {
	e := setupEnv(t)

	require.NoError(t, Doctor(context.Background(), "", false))
	assert.Contains(t, e.out.String(), "gsclone doctor")
	assert.Contains(t, e.out.String(), "Proxmox API")
}
