package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"tally/internal/core"
)

var (
	ColorBorder = lipgloss.Color("#575653")
	ColorAccent = lipgloss.Color("#3AA99F")
	ColorText   = lipgloss.Color("#FFFCF0")
	ColorRed    = lipgloss.Color("#D14D41")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	valueStyle  = lipgloss.NewStyle().Foreground(ColorText)
	dimStyle    = lipgloss.NewStyle().Foreground(ColorBorder)
	errorStyle  = lipgloss.NewStyle().Foreground(ColorRed)
)

// Table represents a bordered text table for CLI output.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// RenderTable renders a bordered table. The first column is left aligned,
// the others right aligned.
func RenderTable(t Table) string {
	numCols := len(t.Headers)
	if numCols == 0 && len(t.Rows) > 0 {
		numCols = len(t.Rows[0])
	}
	if numCols == 0 {
		return ""
	}

	widths := make([]int, numCols)
	for i, h := range t.Headers {
		widths[i] = len(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < numCols && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	border := func(left, mid, right string) string {
		parts := make([]string, numCols)
		for i, w := range widths {
			parts[i] = strings.Repeat("─", w+2)
		}
		return dimStyle.Render(left+strings.Join(parts, mid)+right) + "\n"
	}

	var b strings.Builder
	if t.Title != "" {
		b.WriteString("  " + headerStyle.Render(t.Title) + "\n")
	}
	b.WriteString(border("╭", "┬", "╮"))

	if len(t.Headers) > 0 {
		b.WriteString(dimStyle.Render("│"))
		for i, h := range t.Headers {
			b.WriteString(headerStyle.Render(fmt.Sprintf(" %-*s ", widths[i], h)))
			b.WriteString(dimStyle.Render("│"))
		}
		b.WriteString("\n")
		b.WriteString(border("├", "┼", "┤"))
	}

	for _, row := range t.Rows {
		b.WriteString(dimStyle.Render("│"))
		for i := 0; i < numCols; i++ {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			format := " %*s "
			if i == 0 {
				format = " %-*s "
			}
			b.WriteString(valueStyle.Render(fmt.Sprintf(format, widths[i], cell)))
			b.WriteString(dimStyle.Render("│"))
		}
		b.WriteString("\n")
	}

	b.WriteString(border("╰", "┴", "╯"))
	return b.String()
}

// RenderError renders a one-line error message.
func RenderError(msg string) string {
	return errorStyle.Render("  " + msg)
}

// ReportTable lays out a monthly report, one row per category by name.
func ReportTable(r core.MonthlyReport) Table {
	names := make([]string, 0, len(r.CategoryTotals))
	for name := range r.CategoryTotals {
		names = append(names, name)
	}
	sort.Strings(names)

	t := Table{
		Title:   fmt.Sprintf("Household %s, %s", r.HouseholdID, r.Month.Label()),
		Headers: []string{"Category", "Total"},
	}
	for _, name := range names {
		t.Rows = append(t.Rows, []string{name, r.CategoryTotals[name].Format()})
	}
	t.Rows = append(t.Rows, []string{"total", r.TotalExpenses.Format()})
	return t
}
