package handlers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/imamik/gsclone/internal/provisioning"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// printJSON writes v as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

// printTable renders rows under headers.
func printTable(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(stdout, t.String())
}

// outcomeResult is the JSON shape of a provision or resume result.
type outcomeResult struct {
	*provisioning.Outcome
	Error string `json:"error,omitempty"`
}

// printOutcome writes a human summary of out.
func printOutcome(out *provisioning.Outcome, err error) {
	if out == nil {
		return
	}
	fmt.Fprintln(stdout)
	if out.GuestID != 0 {
		fmt.Fprintf(stdout, "  Guest:    %d\n", out.GuestID)
	}
	fmt.Fprintf(stdout, "  Status:   %s\n", out.Status)
	if out.Step != "" && err != nil {
		fmt.Fprintf(stdout, "  Step:     %s\n", out.Step)
	}
	if out.Address != "" {
		fmt.Fprintf(stdout, "  Address:  %s\n", out.Address)
	}
	for _, w := range out.Warnings {
		fmt.Fprintf(stdout, "  Warning:  %s: %s\n", w.Step, w.Message)
	}
	if err != nil && out.CanRetry && out.GuestID != 0 {
		fmt.Fprintf(stdout, "\n  Retry with: gsclone resume %d\n", out.GuestID)
	}
}

// emptyDash renders empty values as "-".
func emptyDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
