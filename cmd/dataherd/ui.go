package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"dataherd/internal/types"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

// renderTable prints a fixed-width table with a styled header row.
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		b.WriteString(headerStyle.Render(pad(h, widths[i])))
		if i < len(headers)-1 {
			b.WriteString("  ")
		}
	}
	b.WriteString("\n")
	for _, row := range rows {
		for i, cell := range row {
			b.WriteString(pad(cell, widths[i]))
			if i < len(row)-1 {
				b.WriteString("  ")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// printRule renders one compiled rule for review.
func printRule(rule types.Rule) {
	fmt.Println(titleStyle.Render(rule.Name))
	fmt.Printf("  %s\n", rule.Description)
	fmt.Printf("  type: %s  action: %s  confidence: %.2f\n", rule.Type, rule.Action, rule.Confidence)
	fmt.Printf("  when: %s\n", rule.Condition.Describe(rule.Field))
	if rule.ClientContext != "" {
		fmt.Printf("  client: %s\n", rule.ClientContext)
	}
	fmt.Println(dimStyle.Render("  id: " + rule.ID))
}

// printChangeSet renders a preview result.
func printChangeSet(cs types.ChangeSet) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Batch %s: %d proposed change(s) over %d record(s)",
		cs.BatchID, len(cs.Entries), cs.Records)))
	for _, w := range cs.Warnings {
		fmt.Println(warnStyle.Render("  warning: " + w))
	}
	if len(cs.Entries) == 0 {
		return
	}

	rows := make([][]string, 0, len(cs.Entries))
	for _, e := range cs.Entries {
		rows = append(rows, []string{
			e.LotID,
			e.Field,
			string(e.Action),
			e.OriginalValue,
			e.NewValue,
			fmt.Sprintf("%.2f", e.Confidence),
			truncate(e.Reason, 48),
		})
	}
	fmt.Println(renderTable(
		[]string{"LOT", "FIELD", "ACTION", "ORIGINAL", "NEW", "CONF", "REASON"}, rows))
	fmt.Printf("flagged: %d  changed: %d  removed: %d  estimated: %d\n",
		cs.Counts.Flagged, cs.Counts.Changed, cs.Counts.Removed, cs.Counts.Estimated)
}
