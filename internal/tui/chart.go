package tui

import (
	"fmt"
	"strings"
	"time"

	"hookscope/internal/httpcontract"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/lipgloss"
)

// renderSeries draws a chart series as a sparkline sized to the panel,
// showing the most recent buckets that fit the width.
func renderSeries(series httpcontract.ChartSeries, width, height int) string {
	if series.Len() == 0 {
		return helpStyle.Render("No chart data yet")
	}
	if width < 10 {
		width = 10
	}
	if height < 3 {
		height = 3
	}

	chartHeight := height - 1 // one line reserved for the stats header

	counts := series.Counts
	timestamps := series.Timestamps
	if len(counts) > width {
		counts = counts[len(counts)-width:]
		timestamps = timestamps[len(timestamps)-width:]
	}

	minCount, maxCount, total := counts[0], counts[0], 0
	for _, c := range counts {
		if c < minCount {
			minCount = c
		}
		if c > maxCount {
			maxCount = c
		}
		total += c
	}

	from := time.UnixMilli(timestamps[0]).Local().Format("15:04")
	to := time.UnixMilli(timestamps[len(timestamps)-1]).Local().Format("15:04")
	header := chartTitleStyle.Render(
		fmt.Sprintf("%s - %s  Total: %d  Min: %d | Max: %d", from, to, total, minCount, maxCount))

	sl := sparkline.New(width, chartHeight,
		sparkline.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("39"))),
	)
	for _, c := range counts {
		sl.Push(float64(c))
	}
	sl.Draw()

	return lipgloss.JoinVertical(lipgloss.Left, header, strings.TrimRight(sl.View(), "\n"))
}
