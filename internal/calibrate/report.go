package calibrate

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	reportTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("86")).
				MarginBottom(1)
	reportHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Padding(0, 1)
	reportCellStyle = lipgloss.NewStyle().
			Padding(0, 1)
	reportSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// Report renders calibration metrics as a terminal table: one header row,
// one value row.
func Report(m *Metrics) string {
	headers := []string{
		"Throughput (cycles/s)",
		"Bid throughput",
		"Bid price",
		"Runs",
		"Slowest run",
	}
	values := []string{
		fmt.Sprintf("%.0f", m.MeasuredThroughput),
		fmt.Sprintf("%.0f", m.RecommendedBidThroughput),
		fmt.Sprintf("%.3e", m.RecommendedBidPrice),
		fmt.Sprintf("%d", m.Runs),
		m.SlowestRun.Round(10 * time.Millisecond).String(),
	}

	widths := make([]int, len(headers))
	for i := range headers {
		widths[i] = lipgloss.Width(headers[i])
		if w := lipgloss.Width(values[i]); w > widths[i] {
			widths[i] = w
		}
		widths[i] += 2
	}

	var sb strings.Builder
	sb.WriteString(reportTitleStyle.Render("Calibration Report"))
	sb.WriteString("\n")
	for i, h := range headers {
		sb.WriteString(reportHeaderStyle.Width(widths[i]).Render(h))
		if i < len(headers)-1 {
			sb.WriteString(reportSepStyle.Render("|"))
		}
	}
	sb.WriteString("\n")
	for i, v := range values {
		sb.WriteString(reportCellStyle.Width(widths[i]).Render(v))
		if i < len(values)-1 {
			sb.WriteString(reportSepStyle.Render("|"))
		}
	}
	sb.WriteString("\n")
	return sb.String()
}
