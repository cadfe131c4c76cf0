package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/gsclone/cmd/gsclone/handlers"
)

// DHCP returns the command group for the router's static reservations.
func DHCP(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dhcp",
		Short: "Inspect and restore DHCP reservations",
	}
	cmd.AddCommand(dhcpList(flags))
	cmd.AddCommand(dhcpRestore(flags))
	return cmd
}

func dhcpList(flags *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List static DHCP reservations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.DHCPList(cmd.Context(), flags.configPath, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func dhcpRestore(flags *globalFlags) *cobra.Command {
	var (
		file       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore known reservations after a router reset",
		Long: `Merge known reservations from a YAML file into the router's list.

Entries whose MAC or address is already reserved are left alone, entries
without a MAC are skipped, and the list is written once.

File format:
  reservations:
    - mac: BC:24:11:00:00:01
      ip: 192.168.1.240
      name: survival-2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.DHCPRestore(cmd.Context(), flags.configPath, file, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with reservations")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
