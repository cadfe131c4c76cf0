// Package main is the entry point for the gsclone CLI.
//
// gsclone clones game server templates on a Proxmox VE cluster, reserves a
// DHCP address for each clone on the home router, resets its world and
// registers it with the Velocity proxy. Every clone is tracked as a
// durable workflow that can be inspected and resumed.
//
// Commands: serve, provision, status, resume, workflows, guests,
// decommission, dhcp, doctor, init, version.
//
// For detailed usage information, run:
//
//	gsclone --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imamik/gsclone/cmd/gsclone/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Root().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
