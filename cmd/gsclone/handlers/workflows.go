package handlers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/imamik/gsclone/internal/provisioning"
	"github.com/imamik/gsclone/internal/workflow"
)

// Status prints the stored workflow of a guest.
func Status(ctx context.Context, configPath string, guestID int, jsonOutput bool) error {
	env, err := newEnvironment(ctx, configPath)
	if err != nil {
		return err
	}
	defer env.Close()

	st, err := env.orch.GetWorkflowStatus(ctx, guestID)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(st)
	}
	printStatus(st)
	return nil
}

func printStatus(st *provisioning.WorkflowStatus) {
	w := st.Workflow
	fmt.Fprintf(stdout, "Guest %d (%s)\n", w.GuestID, w.RequestedName)
	fmt.Fprintf(stdout, "  Owner:     %s\n", w.OwnerID)
	fmt.Fprintf(stdout, "  Source:    %d\n", w.SourceGuestID)
	fmt.Fprintf(stdout, "  Status:    %s\n", w.Status)
	fmt.Fprintf(stdout, "  Step:      %s\n", w.CurrentStep)
	fmt.Fprintf(stdout, "  Progress:  %d%%\n", w.ProgressPercent)
	fmt.Fprintf(stdout, "  Node:      %s\n", emptyDash(w.Node))
	fmt.Fprintf(stdout, "  Address:   %s\n", emptyDash(w.AssignedAddress))
	fmt.Fprintf(stdout, "  Updated:   %s\n", w.UpdatedAt.Format(time.RFC3339))
	if w.ErrorMessage != "" {
		fmt.Fprintf(stdout, "  Error:     %s at %s\n", w.ErrorMessage, w.ErrorStep)
	}

	fmt.Fprintln(stdout)
	printTable([]string{"STEP", "DONE"}, [][]string{
		{"clone", yesNo(w.Cloned)},
		{"address reservation", yesNo(w.AddressReserved)},
		{"placement", yesNo(w.Migrated)},
		{"start", yesNo(w.Started)},
		{"world reset", yesNo(w.WorldConfigured)},
		{"proxy registration", yesNo(w.ProxyRegistered)},
	})

	if st.CanRetry {
		fmt.Fprintf(stdout, "\nResume with: gsclone resume %d\n", w.GuestID)
	} else if w.Status == workflow.StatusFailed {
		fmt.Fprintln(stdout, "\nThis workflow cannot be resumed; provision a new guest.")
	}
}

// Workflows prints every stored workflow.
func Workflows(ctx context.Context, configPath string, jsonOutput bool) error {
	env, err := newEnvironment(ctx, configPath)
	if err != nil {
		return err
	}
	defer env.Close()

	ws, err := env.orch.ListWorkflows(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		if ws == nil {
			ws = []*workflow.Workflow{}
		}
		return printJSON(ws)
	}
	if len(ws) == 0 {
		fmt.Fprintln(stdout, "No workflows.")
		return nil
	}
	rows := make([][]string, 0, len(ws))
	for _, w := range ws {
		rows = append(rows, []string{
			strconv.Itoa(w.GuestID),
			w.RequestedName,
			w.OwnerID,
			string(w.Status),
			string(w.CurrentStep),
			fmt.Sprintf("%d%%", w.ProgressPercent),
		})
	}
	printTable([]string{"ID", "NAME", "OWNER", "STATUS", "STEP", "PROGRESS"}, rows)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
