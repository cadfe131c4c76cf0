package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/gsclone/cmd/gsclone/handlers"
)

// Guests returns the command that lists managed guests.
func Guests(flags *globalFlags) *cobra.Command {
	var (
		owner      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "guests",
		Short: "List managed guests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Guests(cmd.Context(), flags.configPath, owner, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Only list guests of this owner")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

// Decommission returns the command that retires a managed guest.
func Decommission(flags *globalFlags) *cobra.Command {
	var (
		owner      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "decommission GUEST_ID",
		Short: "Remove a guest from the proxy and the router",
		Long: `Remove a guest from the proxy and the router and forget it.

The proxy entry and the DHCP reservation are removed on a best-effort
basis and the guest's records are deleted. The virtual machine itself is
not touched; delete it on the hypervisor when it is no longer needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseGuestID(args[0])
			if err != nil {
				return err
			}
			return handlers.Decommission(cmd.Context(), flags.configPath, id, owner, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Refuse unless the guest belongs to this owner")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}
