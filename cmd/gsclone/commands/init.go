package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/gsclone/cmd/gsclone/handlers"
	"github.com/imamik/gsclone/internal/config"
)

// Init returns the command for interactively creating a configuration.
//
// Flags:
//
//	--output, -o: Path to output file (default "gsclone.yaml")
func Init() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively create a configuration",
		Long: `Interactively create a gsclone configuration file.

The wizard asks about:

  - The Proxmox API endpoint and node
  - The router and the address range for clones
  - SSH access to the game server templates
  - The Velocity proxy host
  - Where workflows are stored (local file or S3)

Secrets are never written by the wizard; the generated file lists the
environment variables that provide them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Init(cmd.Context(), outputPath)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", config.DefaultConfigFilename, "Output file path")

	return cmd
}
