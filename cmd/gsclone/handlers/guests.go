package handlers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/imamik/gsclone/internal/workflow"
)

// Guests lists managed guests, optionally of one owner.
func Guests(ctx context.Context, configPath, ownerID string, jsonOutput bool) error {
	env, err := newEnvironment(ctx, configPath)
	if err != nil {
		return err
	}
	defer env.Close()

	guests, err := env.orch.ListGuests(ctx, ownerID)
	if err != nil {
		return err
	}
	if jsonOutput {
		if guests == nil {
			guests = []*workflow.ManagedGuest{}
		}
		return printJSON(guests)
	}
	if len(guests) == 0 {
		fmt.Fprintln(stdout, "No guests.")
		return nil
	}

	rows := make([][]string, 0, len(guests))
	for _, g := range guests {
		rows = append(rows, []string{
			strconv.Itoa(g.GuestID),
			g.DisplayName,
			g.OwnerID,
			emptyDash(g.Node),
			emptyDash(g.Address),
			emptyDash(g.WorldSeed),
			g.CreatedAt.Format(time.DateTime),
		})
	}
	printTable([]string{"ID", "NAME", "OWNER", "NODE", "ADDRESS", "SEED", "CREATED"}, rows)
	return nil
}

// Decommission removes a guest from the proxy and the router and deletes
// its records. The virtual machine is left in place.
func Decommission(ctx context.Context, configPath string, guestID int, ownerID string, jsonOutput bool) error {
	env, err := newEnvironment(ctx, configPath)
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := env.orch.Decommission(ctx, guestID, ownerID)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(res)
	}

	fmt.Fprintf(stdout, "Guest %d decommissioned.\n", res.GuestID)
	fmt.Fprintf(stdout, "  Proxy entry removed:   %s\n", yesNo(res.ProxyDeregistered))
	fmt.Fprintf(stdout, "  Reservation released:  %s\n", yesNo(res.AddressReleased))
	for _, w := range res.Warnings {
		fmt.Fprintf(stdout, "  Warning: %s\n", w)
	}
	fmt.Fprintf(stdout, "\nThe virtual machine %d still exists on the hypervisor.\n", res.GuestID)
	return nil
}
