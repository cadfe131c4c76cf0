package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/gsclone/cmd/gsclone/handlers"
)

// Doctor returns the command for diagnosing the configuration and backends.
//
// Optional flags:
//
//	--json: Output in JSON format
func Doctor(flags *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and connectivity",
		Long: `Check the configuration and every backend it names.

  - Validates the configuration file
  - Checks the Proxmox API, cluster nodes and clone storage
  - Checks the router and how many pool addresses are free
  - Checks the Velocity proxy host
  - Counts stored workflows and reports paused or failed ones`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Doctor(cmd.Context(), flags.configPath, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}
