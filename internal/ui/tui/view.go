package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/imamik/gsclone/internal/workflow"
)

// styleFunc is a single-string styling function.
type styleFunc func(string) string

// sf wraps a lipgloss.Style into a styleFunc.
func sf(s lipgloss.Style) styleFunc {
	return func(str string) string { return s.Render(str) }
}

func renderView(m Model) string {
	var b strings.Builder

	renderHeader(&b, m)
	renderProgressBar(&b, m)
	renderSteps(&b, m)

	if m.Outcome != nil && len(m.Outcome.Warnings) > 0 {
		renderWarnings(&b, m)
	}
	if m.Done {
		renderSummary(&b, m)
	}

	renderFooter(&b, m)
	return b.String()
}

func renderHeader(b *strings.Builder, m Model) {
	title := fmt.Sprintf("gsclone %s: %s", m.Mode, m.GuestName)
	b.WriteString(titleStyle.Render(title))
	if m.Source != 0 {
		b.WriteString(subtitleStyle.Render(fmt.Sprintf(" (from %d)", m.Source)))
	}

	status := " "
	switch {
	case m.Status == workflow.StatusCompleted:
		status += readyStyle.Render("Completed")
	case m.Status == workflow.StatusPaused:
		status += warningStyle.Render("Paused")
	case m.Status == workflow.StatusFailed:
		status += failedStyle.Render("Failed")
	case m.Err != nil:
		status += failedStyle.Render(fmt.Sprintf("Error: %v", m.Err))
	case m.CurrentStep != "":
		status += activeStyle.Render(currentSpinner(m.SpinnerFrame)+" ") + warningStyle.Render(stepNames[m.CurrentStep])
	default:
		status += dimStyle.Render("Submitting...")
	}
	b.WriteString(status)
	b.WriteString("\n")
}

func renderProgressBar(b *strings.Builder, m Model) {
	barWidth := 40
	if m.Width > 0 && m.Width < 80 {
		barWidth = max(m.Width-30, 10)
	}
	pct := min(max(m.Percent, 0), 100)
	filled := barWidth * pct / 100

	bar := progressBarFull.Render(strings.Repeat("█", filled)) +
		progressBarEmpty.Render(strings.Repeat("░", barWidth-filled))

	eta := ""
	if m.EstimatedRemaining > 0 {
		eta = fmt.Sprintf(" ETA %s", formatDuration(m.EstimatedRemaining))
	}
	if m.PerformanceScale != 0 && m.PerformanceScale != 1.0 {
		eta += fmt.Sprintf("  speed x%.2f", m.PerformanceScale)
	}

	fmt.Fprintf(b, "  %s %d%%%s\n", bar, pct, eta)
}

func renderSteps(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Steps"))
	b.WriteString("\n")

	for _, row := range m.Steps {
		icon, style := stepIcon(row, m.SpinnerFrame)
		detail := ""
		switch {
		case row.Err != "":
			detail = dimStyle.Render(truncate(row.Err, 60))
		case row.Warning != "":
			detail = warningStyle.Render(truncate(row.Warning, 60))
		case row.Skipped:
			detail = dimStyle.Render("skipped")
		case row.Active && row.Step == workflow.StepCloning:
			detail = dimStyle.Render(fmt.Sprintf("%d%%", m.Percent))
		}
		fmt.Fprintf(b, "    %s %-20s %s\n", style(icon), style(row.Name), detail)
	}
}

func renderWarnings(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Warnings"))
	b.WriteString("\n")
	for _, w := range m.Outcome.Warnings {
		fmt.Fprintf(b, "    %s [%s] %s\n", warningStyle.Render(warnMark), w.Step, dimStyle.Render(w.Message))
	}
}

func renderSummary(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Result"))
	b.WriteString("\n")
	if m.GuestID != 0 {
		fmt.Fprintf(b, "    Guest:   %d\n", m.GuestID)
	}
	if m.Outcome != nil && m.Outcome.Address != "" {
		fmt.Fprintf(b, "    Address: %s\n", m.Outcome.Address)
	}
	if m.Outcome != nil && m.Outcome.CanRetry {
		fmt.Fprintf(b, "    %s\n", warningStyle.Render(fmt.Sprintf("Run 'gsclone resume %d' to continue", m.GuestID)))
	}
	if m.Err != nil && (m.Outcome == nil || m.Outcome.Message == "") {
		fmt.Fprintf(b, "    %s %s\n", failedStyle.Render(crossMark), m.Err)
	}
}

func renderFooter(b *strings.Builder, m Model) {
	elapsed := formatDuration(time.Since(m.StartTime))
	parts := []string{fmt.Sprintf("elapsed: %s", elapsed)}
	if m.GuestID != 0 {
		parts = append(parts, fmt.Sprintf("guest: %d", m.GuestID))
	}
	b.WriteString(footerStyle.Render(fmt.Sprintf("  %s  |  q: quit", strings.Join(parts, "  |  "))))
	b.WriteString("\n")
}

// Helper functions

func stepIcon(row StepRow, frame int) (string, styleFunc) {
	switch {
	case row.Err != "":
		return crossMark, sf(failedStyle)
	case row.Warning != "":
		return warnMark, sf(warningStyle)
	case row.Skipped:
		return skipMark, sf(dimStyle)
	case row.Done:
		return checkMark, sf(readyStyle)
	case row.Active:
		return currentSpinner(frame), sf(activeStyle)
	default:
		return pending, sf(dimStyle)
	}
}

func currentSpinner(frame int) string {
	if len(spinnerFrames) == 0 {
		return spinner
	}
	if frame < 0 {
		frame = -frame
	}
	return spinnerFrames[frame%len(spinnerFrames)]
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
