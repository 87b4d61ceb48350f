// Package tui provides the styled terminal output of the CLI.
// Simple, streaming, no complex TUI - just clean lines and a progress bar.
package tui

import (
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/tracelane/tracelane/pkg/errors"
	"github.com/tracelane/tracelane/pkg/index"
	"github.com/tracelane/tracelane/pkg/timeline"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warn    = lipgloss.Color("#FFAA00")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warn)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

// PrintHeader prints the tool banner.
func PrintHeader(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  TRACELANE")+mutedStyle.Render(" v"+version))
	fmt.Fprintln(w, mutedStyle.Render("  Workflow execution lanes from HyperFlow traces"))
	fmt.Fprintln(w)
}

// PrintWarnings prints one WARNING line per warning.
func PrintWarnings(w io.Writer, warnings []timeline.Warning) {
	for _, wr := range warnings {
		fmt.Fprintln(w, warnStyle.Render("WARNING: ")+wr.String())
	}
}

// PrintSummary prints the outcome of an analysis run.
func PrintSummary(w io.Writer, res *timeline.Result) {
	jobs := 0
	for _, l := range res.Lanes() {
		jobs += len(l.Jobs)
	}
	peak := res.Peak()

	fmt.Fprintln(w)
	fmt.Fprintln(w, successStyle.Render("  ✓ ANALYSIS COMPLETE"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Workflow:"), titleStyle.Render(res.Workflow.Stem()))
	fmt.Fprintf(w, "  %s %s %s\n", mutedStyle.Render("Jobs:"),
		titleStyle.Render(formatNumber(int64(jobs))),
		mutedStyle.Render(fmt.Sprintf("placed of %s", formatNumber(int64(len(res.Jobs))))))
	fmt.Fprintf(w, "  %s %s %s\n", mutedStyle.Render("Lanes:"),
		titleStyle.Render(fmt.Sprintf("%d", res.LaneCount())),
		mutedStyle.Render(fmt.Sprintf("on %d nodes", len(res.Nodes))))
	fmt.Fprintf(w, "  %s %s %s\n", mutedStyle.Render("Peak:"),
		titleStyle.Render(fmt.Sprintf("%d active", peak.Active)),
		mutedStyle.Render(fmt.Sprintf("at %.2fs", peak.Offset)))
	if len(res.Warnings) > 0 {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Warnings:"), accentStyle.Render(fmt.Sprintf("%d", len(res.Warnings))))
	}
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Time:"), titleStyle.Render(formatDuration(res.Elapsed)))
	fmt.Fprintln(w)
}

// PrintSaved reports a written file.
func PrintSaved(w io.Writer, what, path string) {
	fmt.Fprintf(w, "  %s %s saved to %s\n", successStyle.Render("✓"), what, codeStyle.Render(path))
}

// PrintError prints a failure line.
func PrintError(w io.Writer, err error) {
	fmt.Fprintf(w, "  %s %v\n", accentStyle.Render("✗"), err)
}

// PrintErrorStack prints err and, for coded errors, the stack captured
// where the error was created.
func PrintErrorStack(w io.Writer, err error) {
	PrintError(w, err)
	var te *errors.TraceError
	if stderrors.As(err, &te) && len(te.StackTrace) > 0 {
		fmt.Fprint(w, mutedStyle.Render(te.FormatStack()))
		fmt.Fprintln(w)
	}
}

// PrintGroups prints how many jobs of each group can be placed on a lane.
func PrintGroups(w io.Writer, title string, groups []index.Group) {
	if len(groups) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ "+title))
	for _, g := range groups {
		line := fmt.Sprintf("  %-24s %s", g.Name, titleStyle.Render(fmt.Sprintf("%6d", g.Jobs)))
		if missing := g.Jobs - g.Placeable; missing > 0 {
			line += warnStyle.Render(fmt.Sprintf("  (%d unplaceable)", missing))
		}
		fmt.Fprintln(w, line)
	}
}

// PrintCoverage prints per-event job coverage and per-node lane counts.
func PrintCoverage(w io.Writer, idx *index.JobIndex, res *timeline.Result) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ EVENT COVERAGE"))
	total := idx.Len()
	for _, c := range idx.EventCoverage() {
		pct := 0.0
		if total > 0 {
			pct = 100 * float64(c.Jobs) / float64(total)
		}
		fmt.Fprintf(w, "  %-16s %s %s\n", c.Event,
			titleStyle.Render(fmt.Sprintf("%6d", c.Jobs)),
			mutedStyle.Render(fmt.Sprintf("(%.1f%%)", pct)))
	}

	if res == nil {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ LANES PER NODE"))
	for _, nl := range res.Nodes {
		line := fmt.Sprintf("  %-24s %s", nl.Node, titleStyle.Render(fmt.Sprintf("%3d", len(nl.Lanes))))
		if len(nl.Excluded) > 0 {
			line += mutedStyle.Render(fmt.Sprintf("  (%d excluded)", len(nl.Excluded)))
		}
		fmt.Fprintln(w, line)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// ShowProgress creates a progress bar for processing.
func ShowProgress(w io.Writer, total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
