// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument parsing,
// flag binding, and validation. Command execution is delegated to handler
// functions in the handlers package.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/gsclone/internal/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	verbosity  int
	jsonLogs   bool
}

// Root returns the root command for the gsclone CLI.
//
// The root command owns the persistent --config and logging flags and puts
// a logger into the command context before any subcommand runs.
func Root() *cobra.Command {
	flags := &globalFlags{}
	var flush func()

	cmd := &cobra.Command{
		Use:           "gsclone",
		Short:         "Clone game servers on Proxmox",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, sync, err := logging.New(logging.Options{
				Verbosity:   flags.verbosity,
				Development: !flags.jsonLogs,
				JSON:        flags.jsonLogs,
			})
			if err != nil {
				return err
			}
			flush = sync
			cmd.SetContext(logging.IntoContext(cmd.Context(), logger.WithName("gsclone")))
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if flush != nil {
				flush()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file (default: gsclone.yaml)")
	cmd.PersistentFlags().CountVarP(&flags.verbosity, "verbose", "v", "Increase log verbosity (repeatable)")
	cmd.PersistentFlags().BoolVar(&flags.jsonLogs, "log-json", false, "Write logs as JSON")

	// Workflow commands
	cmd.AddCommand(Serve(flags))
	cmd.AddCommand(Provision(flags))
	cmd.AddCommand(Status(flags))
	cmd.AddCommand(Resume(flags))
	cmd.AddCommand(Workflows(flags))
	cmd.AddCommand(Guests(flags))
	cmd.AddCommand(Decommission(flags))

	// Operations
	cmd.AddCommand(DHCP(flags))
	cmd.AddCommand(Doctor(flags))
	cmd.AddCommand(Init())
	cmd.AddCommand(Version())

	return cmd
}
