package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/imamik/gsclone/internal/platform/router"
)

// errRouterNotConfigured is returned by dhcp commands without a router URL.
var errRouterNotConfigured = errors.New("router is not configured")

// readFile reads the restore file (for testing injection).
var readFile = os.ReadFile

func routerFromConfig(configPath string) (router.Client, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Router.URL == "" {
		return nil, errRouterNotConfigured
	}
	return newRouter(cfg.Router), nil
}

// DHCPList prints the router's static DHCP reservations.
func DHCPList(ctx context.Context, configPath string, jsonOutput bool) error {
	client, err := routerFromConfig(configPath)
	if err != nil {
		return err
	}
	bindings, err := client.ListBindings(ctx)
	if err != nil {
		return err
	}
	slices.SortFunc(bindings, func(a, b router.Binding) int { return a.Address.Compare(b.Address) })

	if jsonOutput {
		if bindings == nil {
			bindings = []router.Binding{}
		}
		return printJSON(bindings)
	}
	if len(bindings) == 0 {
		fmt.Fprintln(stdout, "No reservations.")
		return nil
	}
	printTable([]string{"MAC", "ADDRESS", "NAME"}, bindingRows(bindings))
	return nil
}

// DHCPRestore merges reservations from a YAML file into the router's list.
// Entries whose MAC or address is already reserved are left alone.
func DHCPRestore(ctx context.Context, configPath, file string, jsonOutput bool) error {
	bindings, err := loadBindings(file)
	if err != nil {
		return err
	}
	client, err := routerFromConfig(configPath)
	if err != nil {
		return err
	}

	rep, err := client.Restore(ctx, bindings)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(rep)
	}

	fmt.Fprintf(stdout, "Added %d, already present %d, skipped %d.\n",
		len(rep.Added), len(rep.Existing), len(rep.Skipped))
	if len(rep.Added) > 0 {
		fmt.Fprintln(stdout)
		printTable([]string{"MAC", "ADDRESS", "NAME"}, bindingRows(rep.Added))
	}
	for _, b := range rep.Skipped {
		fmt.Fprintf(stdout, "  skipped (no MAC or address): %s\n", emptyDash(b.Name))
	}
	return nil
}

// restoreFile is the layout of a dhcp restore file.
type restoreFile struct {
	Reservations []router.Binding `yaml:"reservations"`
}

func loadBindings(file string) ([]router.Binding, error) {
	data, err := readFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	var rf restoreFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	if len(rf.Reservations) == 0 {
		return nil, fmt.Errorf("%s lists no reservations", file)
	}
	return rf.Reservations, nil
}

func bindingRows(bindings []router.Binding) [][]string {
	rows := make([][]string, 0, len(bindings))
	for _, b := range bindings {
		rows = append(rows, []string{b.MAC, b.Address.String(), emptyDash(b.Name)})
	}
	return rows
}
