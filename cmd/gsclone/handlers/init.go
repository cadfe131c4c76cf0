package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/imamik/gsclone/internal/config"
	"github.com/imamik/gsclone/internal/config/wizard"
)

// Factory function variables for init - can be replaced in tests.
var (
	runWizard        = wizard.RunWizard
	writeConfig      = wizard.WriteConfig
	fileExists       = wizard.FileExists
	confirmOverwrite = wizard.ConfirmOverwrite
)

// errInitAborted is returned when the user keeps an existing config.
var errInitAborted = errors.New("init aborted, existing configuration kept")

// Init runs the configuration wizard and writes the result to outputPath.
func Init(ctx context.Context, outputPath string) error {
	if fileExists(outputPath) {
		ok, err := confirmOverwrite(outputPath)
		if err != nil {
			return fmt.Errorf("failed to confirm overwrite: %w", err)
		}
		if !ok {
			return errInitAborted
		}
	}

	printWelcome()

	result, err := runWizard(ctx)
	if err != nil {
		return fmt.Errorf("wizard canceled: %w", err)
	}

	cfg := wizard.BuildConfig(result)
	if err := writeConfig(cfg, outputPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	printInitSuccess(outputPath, cfg)
	return nil
}

func printWelcome() {
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "gsclone - game server clones on Proxmox")
	fmt.Fprintln(stdout, "=======================================")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "This wizard writes a configuration for cloning game server templates.")
	fmt.Fprintln(stdout, "Secrets are read from environment variables and never asked for here.")
	fmt.Fprintln(stdout)
}

func printInitSuccess(outputPath string, cfg *config.Config) {
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Configuration saved!")
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "  File:        %s\n", outputPath)
	fmt.Fprintf(stdout, "  Proxmox:     %s (node %s)\n", cfg.Proxmox.URL, cfg.Proxmox.Node)
	if cfg.Router.Enabled {
		fmt.Fprintf(stdout, "  Addresses:   %s - %s\n", cfg.Router.RangeStart, cfg.Router.RangeEnd)
	} else {
		fmt.Fprintln(stdout, "  Addresses:   not assigned")
	}
	if cfg.Velocity.Enabled {
		fmt.Fprintf(stdout, "  Proxy:       %s\n", cfg.Velocity.Host)
	}
	fmt.Fprintf(stdout, "  Store:       %s\n", cfg.Store.Backend)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Next steps:")
	fmt.Fprintf(stdout, "  gsclone doctor -c %s\n", outputPath)
	fmt.Fprintf(stdout, "  gsclone serve -c %s\n", outputPath)
}
