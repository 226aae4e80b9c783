package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"convx/internal/engine"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	sourceStyle = cellStyle.Foreground(lipgloss.Color("14"))
	totalStyle  = cellStyle.Bold(true)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func countsLine(r engine.Result) string {
	return fmt.Sprintf("discovered=%d exported=%d updated=%d skipped=%d filtered=%d",
		r.Discovered, r.Exported, r.Updated, r.Skipped, r.Filtered)
}

// printSummary writes the machine-readable result lines, followed by a table
// when out is a terminal.
func printSummary(out io.Writer, outputRoot, historySubpath string, total engine.Result, per []sourceResult) {
	for _, sr := range per {
		fmt.Fprintf(out, "  %s: %s\n", sr.source, countsLine(sr.result))
	}
	fmt.Fprintf(out, "output_repo=%s\n", outputRoot)
	fmt.Fprintf(out, "history_root=%s\n", filepath.Join(outputRoot, historySubpath))
	fmt.Fprintf(out, "%s dry_run=%t\n", countsLine(total), total.DryRun)

	if isTerminal(out) {
		fmt.Fprintln(out, summaryTable(total, per))
	}
}

func summaryTable(total engine.Result, per []sourceResult) string {
	row := func(name string, r engine.Result) []string {
		return []string{
			name,
			strconv.Itoa(r.Discovered),
			strconv.Itoa(r.Exported),
			strconv.Itoa(r.Updated),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Filtered),
		}
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("source", "discovered", "exported", "updated", "skipped", "filtered")
	for _, sr := range per {
		t.Row(row(sr.source, sr.result)...)
	}
	totalLabel := "total"
	if total.DryRun {
		totalLabel = "total (dry run)"
	}
	t.Row(row(totalLabel, total)...)

	last := len(per)
	t.StyleFunc(func(r, c int) lipgloss.Style {
		switch {
		case r == table.HeaderRow:
			return headerStyle
		case r == last:
			return totalStyle
		case c == 0:
			return sourceStyle
		default:
			return cellStyle
		}
	})
	return t.Render()
}
