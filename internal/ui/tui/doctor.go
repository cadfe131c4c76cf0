package tui

import (
	"fmt"
	"strings"
	"time"
)

// CheckResult is the outcome of one doctor check.
type CheckResult struct {
	Name     string
	OK       bool
	Warning  bool
	Detail   string
	Duration time.Duration
}

// RenderDoctorOnce renders doctor results using lipgloss (non-interactive).
func RenderDoctorOnce(configPath string, checks []CheckResult) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("gsclone doctor"))
	if configPath != "" {
		b.WriteString(subtitleStyle.Render(" (" + configPath + ")"))
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("  Checks"))
	b.WriteString("\n")

	failed, warned := 0, 0
	for _, c := range checks {
		icon, style := checkIcon(c)
		switch {
		case !c.OK && !c.Warning:
			failed++
		case c.Warning:
			warned++
		}
		dur := ""
		if c.Duration > 0 {
			dur = dimStyle.Render(c.Duration.Round(time.Millisecond).String())
		}
		fmt.Fprintf(&b, "    %s %-22s %s %s\n", style(icon), style(c.Name), c.Detail, dur)
	}

	summary := readyStyle.Render("all checks passed")
	switch {
	case failed > 0:
		summary = failedStyle.Render(fmt.Sprintf("%d check(s) failed", failed))
	case warned > 0:
		summary = warningStyle.Render(fmt.Sprintf("%d warning(s)", warned))
	}
	b.WriteString(footerStyle.Render("  " + summary))
	b.WriteString("\n")
	return b.String()
}

func checkIcon(c CheckResult) (string, styleFunc) {
	switch {
	case c.Warning:
		return warnMark, sf(warningStyle)
	case c.OK:
		return checkMark, sf(readyStyle)
	default:
		return crossMark, sf(failedStyle)
	}
}
