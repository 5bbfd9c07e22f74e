package tui

import (
	"strings"
	"testing"
	"time"

	"hookscope/internal/httpcontract"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
	}{
		{"shorter than max", "abc", 10, "abc"},
		{"exactly max", "abcde", 5, "abcde"},
		{"longer than max", "abcdefghij", 8, "abcde..."},
		{"max too small to truncate", "abcdefghij", 3, "abcdefghij"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.input, tt.max); got != tt.expected {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.expected)
			}
		})
	}
}

func TestRenderSeriesEmpty(t *testing.T) {
	out := renderSeries(httpcontract.ChartSeries{}, 40, 8)
	if !strings.Contains(out, "No chart data yet") {
		t.Errorf("expected empty-series placeholder, got %q", out)
	}
}

func TestRenderSeriesHeaderStats(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	series := httpcontract.ChartSeries{
		Timestamps: []int64{
			base.UnixMilli(),
			base.Add(time.Minute).UnixMilli(),
			base.Add(2 * time.Minute).UnixMilli(),
		},
		Counts: []int{2, 7, 1},
	}

	out := renderSeries(series, 40, 8)
	if !strings.Contains(out, "Total: 10") {
		t.Errorf("expected total in header, got %q", out)
	}
	if !strings.Contains(out, "Min: 1 | Max: 7") {
		t.Errorf("expected min/max in header, got %q", out)
	}
}

func TestRenderSeriesKeepsNewestBuckets(t *testing.T) {
	// More buckets than the panel width: the stats must reflect only the
	// newest buckets that fit.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var series httpcontract.ChartSeries
	for i := 0; i < 30; i++ {
		series.Timestamps = append(series.Timestamps, base.Add(time.Duration(i)*time.Minute).UnixMilli())
		series.Counts = append(series.Counts, 1)
	}
	series.Counts[0] = 100 // oldest bucket, should fall outside the window

	out := renderSeries(series, 10, 8)
	if strings.Contains(out, "Max: 100") {
		t.Errorf("oldest bucket leaked into a narrow panel: %q", out)
	}
	if !strings.Contains(out, "Total: 10") {
		t.Errorf("expected total over the visible window, got %q", out)
	}
}
