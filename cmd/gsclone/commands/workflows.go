package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/imamik/gsclone/cmd/gsclone/handlers"
)

// Status returns the command that shows a stored workflow.
func Status(flags *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status GUEST_ID",
		Short: "Show the workflow of a guest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseGuestID(args[0])
			if err != nil {
				return err
			}
			return handlers.Status(cmd.Context(), flags.configPath, id, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

// Resume returns the command that continues a paused or failed workflow.
func Resume(flags *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "resume GUEST_ID",
		Short: "Resume a paused or failed workflow",
		Long: `Resume a paused or failed workflow.

Only the step that stopped the workflow is redone. A clone that was still
running when provisioning stopped waiting is polled again and the remaining
steps run once it finishes. Workflows whose clone failed cannot be resumed;
provision a new guest instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseGuestID(args[0])
			if err != nil {
				return err
			}
			return handlers.Resume(cmd.Context(), flags.configPath, id, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

// Workflows returns the command that lists every stored workflow.
func Workflows(flags *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "List stored workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Workflows(cmd.Context(), flags.configPath, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func parseGuestID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid guest id %q", s)
	}
	return id, nil
}
