package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imamik/gsclone/cmd/gsclone/handlers"
	"github.com/imamik/gsclone/internal/provisioning"
)

// Provision returns the command for cloning a game server.
//
// Required flags:
//
//	--owner: Owner of the new guest
//	--source: Template guest id
//	--name: Display name, used as hostname and proxy server name
//
// Optional flags:
//
//	--seed: World seed written to server.properties
//	--target-node: Node to move the clone to
//	--id: Guest id of the clone (default: next free id)
//	--json: Output in JSON format
func Provision(flags *globalFlags) *cobra.Command {
	var (
		req        provisioning.Request
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Clone a game server from a template",
		Long: `Clone a game server from a template and bring it online.

The clone gets a DHCP reservation, is moved to the target node, started,
has its world reset with the requested seed and is registered with the
proxy. Failures after the clone leave a workflow that can be resumed
with "gsclone resume".

Examples:
  gsclone provision --owner alice --source 9000 --name survival-2 --seed 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.SourceGuestID <= 0 {
				return fmt.Errorf("--source must be a positive guest id")
			}
			return handlers.Provision(cmd.Context(), handlers.ProvisionOptions{
				ConfigPath: flags.configPath,
				Request:    req,
				JSON:       jsonOutput,
			})
		},
	}

	cmd.Flags().StringVar(&req.OwnerID, "owner", "", "Owner of the new guest")
	cmd.Flags().IntVar(&req.SourceGuestID, "source", 0, "Template guest id")
	cmd.Flags().StringVar(&req.Name, "name", "", "Display name of the new guest")
	cmd.Flags().StringVar(&req.Seed, "seed", "", "World seed")
	cmd.Flags().StringVar(&req.TargetNode, "target-node", "", "Node to place the clone on")
	cmd.Flags().IntVar(&req.NewID, "id", 0, "Guest id of the clone (default: next free id)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}
