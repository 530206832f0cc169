package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/awalker/jobbreak/internal/breaker"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D787")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF005F")).Bold(true)
	hintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).Italic(true)
)

// renderSummary prints the one-line run summary.
func renderSummary(w io.Writer, stats breaker.Stats, code int, dryRun bool) {
	counts := fmt.Sprintf("%d task(s), %d message(s), %d file(s) pushed in %s",
		stats.Tasks, stats.Messages, stats.FilesPushed, stats.Duration.Round(time.Millisecond))

	switch {
	case code == 0:
		fmt.Fprintln(w, okStyle.Render("Run complete:"), counts)
	case code == breaker.UploadFailureExit:
		fmt.Fprintln(w, failStyle.Render("Run failed (file pushes):"), counts)
	default:
		fmt.Fprintln(w, failStyle.Render(fmt.Sprintf("Run failed (exit %d):", code)), counts)
	}

	if dryRun {
		fmt.Fprintln(w, hintStyle.Render("dry run: nothing was submitted or uploaded"))
	}
}
