package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"hookscope/internal/httpcontract"
)

func TestMarshalRecords(t *testing.T) {
	received := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	records := []httpcontract.WebhookRecord{
		{
			ReceivedAt:  received,
			ContentType: "application/json",
			IPAddress:   "1.2.3.4",
			Payload:     json.RawMessage(`{"a": 1}`),
		},
	}

	got := string(MarshalRecords(records))
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("MarshalRecords() produced %d lines, want header + 1 row", len(lines))
	}
	if lines[0] != "Received At (UTC);Content Type;IP Address;Payload" {
		t.Errorf("header = %q", lines[0])
	}
	want := `2026-03-14T09:26:53Z;application/json;1.2.3.4;{"a":1}`
	if lines[1] != want {
		t.Errorf("row = %q, want %q", lines[1], want)
	}
}

func TestMarshalRecordsConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	records := []httpcontract.WebhookRecord{
		{
			ReceivedAt:  time.Date(2026, 3, 14, 10, 0, 0, 0, loc),
			ContentType: "text/plain",
			IPAddress:   "5.6.7.8",
			Payload:     json.RawMessage(`"hi"`),
		},
	}

	lines := strings.Split(string(MarshalRecords(records)), "\n")
	if !strings.HasPrefix(lines[1], "2026-03-14T09:00:00Z;") {
		t.Errorf("row = %q, want UTC timestamp prefix", lines[1])
	}
}

func TestMarshalRecordsEmpty(t *testing.T) {
	got := string(MarshalRecords(nil))
	if got != "Received At (UTC);Content Type;IP Address;Payload" {
		t.Errorf("MarshalRecords(nil) = %q, want header only", got)
	}
}

func TestFilename(t *testing.T) {
	now := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	got := Filename("my-hook", now)
	if got != "webhook-data-my-hook-2026-03-14.csv" {
		t.Errorf("Filename() = %q", got)
	}
}
