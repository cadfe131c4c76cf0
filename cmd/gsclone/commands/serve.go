package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/gsclone/cmd/gsclone/handlers"
)

// Serve returns the command that runs the HTTP API.
//
// Optional flags:
//
//	--listen, -l: Listen address (default: server.listen from the config)
func Serve(flags *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the provisioning API",
		Long: `Serve the provisioning API over HTTP.

Routes:
  POST   /v1/guests                  provision a guest (?async=true returns at once)
  GET    /v1/guests?owner=ID         list managed guests
  DELETE /v1/guests/{id}?owner=ID    decommission a guest
  GET    /v1/workflows/{id}          durable workflow status
  POST   /v1/workflows/{id}/resume   resume a paused or failed workflow
  GET    /v1/progress/{token}        live progress of a running workflow
  GET    /metrics                    Prometheus metrics (server.metrics: true)

Workflows left running by a previous process are paused or failed on
startup so they can be inspected and resumed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Serve(cmd.Context(), flags.configPath, listen)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default: server.listen)")

	return cmd
}
