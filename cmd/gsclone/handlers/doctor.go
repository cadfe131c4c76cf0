package handlers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/imamik/gsclone/internal/platform/router"
	"github.com/imamik/gsclone/internal/ui/tui"
	"github.com/imamik/gsclone/internal/workflow"
)

// doctorTimeout bounds each remote check.
const doctorTimeout = 15 * time.Second

// DoctorReport is the JSON form of the doctor output.
type DoctorReport struct {
	ConfigPath string       `json:"configPath,omitempty"`
	Checks     []CheckEntry `json:"checks"`
}

// CheckEntry is one check in a DoctorReport.
type CheckEntry struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Warning  bool   `json:"warning,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// check is a named diagnostic. It returns a detail line, whether the result
// is only a warning, and an error when the check failed.
type check struct {
	name string
	run  func(ctx context.Context) (detail string, warning bool, err error)
}

// Doctor validates the configuration and probes every configured backend.
func Doctor(ctx context.Context, configPath string, jsonOutput bool) error {
	if configPath == "" {
		if found, err := findConfigFile(); err == nil {
			configPath = found
		}
	}

	var results []tui.CheckResult
	env, err := newEnvironment(ctx, configPath)
	if err != nil {
		results = []tui.CheckResult{{Name: "Configuration", Detail: err.Error()}}
	} else {
		defer env.Close()
		results = append([]tui.CheckResult{{Name: "Configuration", OK: true, Detail: "valid"}},
			runChecks(ctx, env.checks())...)
	}

	if jsonOutput {
		if err := printJSON(toReport(configPath, results)); err != nil {
			return err
		}
	} else {
		fmt.Fprint(stdout, tui.RenderDoctorOnce(configPath, results))
	}

	failed := 0
	for _, r := range results {
		if !r.OK && !r.Warning {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

// runChecks runs checks concurrently and returns results in input order.
func runChecks(ctx context.Context, checks []check) []tui.CheckResult {
	results := make([]tui.CheckResult, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, doctorTimeout)
			defer cancel()

			started := time.Now()
			detail, warning, err := c.run(cctx)
			res := tui.CheckResult{
				Name:     c.name,
				OK:       err == nil && !warning,
				Warning:  warning,
				Detail:   detail,
				Duration: time.Since(started),
			}
			if err != nil {
				res.Detail = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *environment) checks() []check {
	checks := []check{
		{name: "Proxmox API", run: e.checkProxmox},
		{name: "Proxmox nodes", run: e.checkNodes},
		{name: "Workflow store", run: e.checkStore},
		{name: "Guest credentials", run: e.checkCredentials},
	}
	if e.cfg.Proxmox.Storage != "" {
		checks = append(checks, check{name: "Clone storage", run: e.checkStorage})
	}
	if e.router != nil {
		checks = append(checks, check{name: "DHCP reservations", run: e.checkRouter})
	} else {
		checks = append(checks, check{name: "DHCP reservations", run: disabled("address assignment is disabled")})
	}
	if e.proxy != nil {
		checks = append(checks, check{name: "Velocity proxy", run: e.checkProxy})
	} else {
		checks = append(checks, check{name: "Velocity proxy", run: disabled("proxy registration is disabled")})
	}
	return checks
}

func disabled(detail string) func(context.Context) (string, bool, error) {
	return func(context.Context) (string, bool, error) { return detail, true, nil }
}

func (e *environment) checkProxmox(ctx context.Context) (string, bool, error) {
	v, err := e.compute.Version(ctx)
	if err != nil {
		return "", false, err
	}
	return "version " + v, false, nil
}

func (e *environment) checkNodes(ctx context.Context) (string, bool, error) {
	nodes, err := e.compute.Nodes(ctx)
	if err != nil {
		return "", false, err
	}
	online := 0
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
		if n.Online() {
			online++
		}
	}
	for _, want := range []string{e.cfg.Proxmox.Node, e.cfg.Provisioning.TargetNode} {
		if want != "" && !slices.Contains(names, want) {
			return "", false, fmt.Errorf("node %q not in cluster (%s)", want, strings.Join(names, ", "))
		}
	}
	detail := fmt.Sprintf("%d of %d online", online, len(nodes))
	return detail, online < len(nodes), nil
}

func (e *environment) checkStorage(ctx context.Context) (string, bool, error) {
	storages, err := e.compute.Storages(ctx, e.cfg.Proxmox.Node)
	if err != nil {
		return "", false, err
	}
	for _, s := range storages {
		if s.Name != e.cfg.Proxmox.Storage {
			continue
		}
		if !s.SupportsImages() {
			return "", false, fmt.Errorf("storage %s does not hold guest disks", s.Name)
		}
		return fmt.Sprintf("%s: %d GiB free", s.Name, s.Avail>>30), false, nil
	}
	return "", false, fmt.Errorf("storage %s not found on %s", e.cfg.Proxmox.Storage, e.cfg.Proxmox.Node)
}

func (e *environment) checkStore(ctx context.Context) (string, bool, error) {
	ws, err := e.store.ListWorkflows(ctx)
	if err != nil {
		return "", false, err
	}
	stopped := 0
	for _, w := range ws {
		if w.Status == workflow.StatusPaused || w.Status == workflow.StatusFailed {
			stopped++
		}
	}
	detail := fmt.Sprintf("%s: %d workflow(s)", e.cfg.Store.Backend, len(ws))
	if stopped > 0 {
		return fmt.Sprintf("%s, %d paused or failed", detail, stopped), true, nil
	}
	return detail, false, nil
}

func (e *environment) checkCredentials(context.Context) (string, bool, error) {
	if !e.cfg.WorldResetEnabled() {
		return "not configured, worlds are not reset", true, nil
	}
	return "user " + e.cfg.SSH.User, false, nil
}

func (e *environment) checkRouter(ctx context.Context) (string, bool, error) {
	bindings, err := e.router.ListBindings(ctx)
	if err != nil {
		return "", false, err
	}
	rng, err := e.cfg.Router.AddressRange()
	if err != nil {
		return "", false, err
	}
	size, used := 0, 0
	for a := rng.From(); rng.Contains(a); a = a.Next() {
		size++
		if slices.ContainsFunc(bindings, func(b router.Binding) bool { return b.Address == a }) {
			used++
		}
	}
	detail := fmt.Sprintf("%d reservation(s), %d of %d pool addresses free", len(bindings), size-used, size)
	if used == size {
		return "", false, errors.New("address pool is exhausted: " + detail)
	}
	return detail, false, nil
}

func (e *environment) checkProxy(ctx context.Context) (string, bool, error) {
	servers, err := e.proxy.Servers(ctx)
	if err != nil {
		return "", false, err
	}
	return fmt.Sprintf("%d server(s) registered", len(servers)), false, nil
}

func toReport(configPath string, results []tui.CheckResult) DoctorReport {
	rep := DoctorReport{ConfigPath: configPath, Checks: make([]CheckEntry, 0, len(results))}
	for _, r := range results {
		e := CheckEntry{Name: r.Name, OK: r.OK, Warning: r.Warning, Detail: r.Detail}
		if r.Duration > 0 {
			e.Duration = r.Duration.Round(time.Millisecond).String()
		}
		rep.Checks = append(rep.Checks, e)
	}
	return rep
}
