// Package export formats webhook records for file export.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"hookscope/internal/httpcontract"
)

// Saver receives finished export content. The console hands exports to a
// Saver instead of touching the filesystem itself.
type Saver interface {
	Save(filename string, content []byte) error
}

var csvHeader = []string{"Received At (UTC)", "Content Type", "IP Address", "Payload"}

// MarshalRecords renders records as semicolon-separated CSV: a header row,
// then one row per record with ISO-8601 UTC receipt time, content type,
// origin address and the JSON-serialized payload.
func MarshalRecords(records []httpcontract.WebhookRecord) []byte {
	rows := make([]string, 0, len(records)+1)
	rows = append(rows, strings.Join(csvHeader, ";"))

	for _, r := range records {
		fields := []string{
			r.ReceivedAt.UTC().Format(time.RFC3339),
			r.ContentType,
			r.IPAddress,
			compactJSON(r.Payload),
		}
		rows = append(rows, strings.Join(fields, ";"))
	}
	return []byte(strings.Join(rows, "\n"))
}

// Filename builds the export filename embedding the path's display name and
// the current date.
func Filename(displayName string, now time.Time) string {
	return fmt.Sprintf("webhook-data-%s-%s.csv", displayName, now.Format("2006-01-02"))
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
