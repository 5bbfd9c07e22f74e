package relay

import (
	"testing"
	"time"
)

func TestRoutingKey(t *testing.T) {
	tests := []struct {
		pathID string
		want   string
	}{
		{"p1", "record.p1"},
		{"67890abcdef", "record.67890abcdef"},
	}

	for _, tt := range tests {
		if got := RoutingKey(tt.pathID); got != tt.want {
			t.Errorf("RoutingKey(%q) = %q, want %q", tt.pathID, got, tt.want)
		}
	}
}

func TestReconnectBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{30, 30 * time.Second},
		{31, 30 * time.Second},
		{100, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := reconnectBackoff(tt.attempt); got != tt.want {
			t.Errorf("reconnectBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
