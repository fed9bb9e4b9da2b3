package dispatch

import (
	"encoding/json"
	"strings"
	"time"
)

// TriggeredAt extracts a best-effort "event occurred at" time from a webhook
// payload. The payload carries no single top level timestamp, so every key
// shaped like *_at with an ISO-8601 value is considered and the maximum wins.
// The zero time is returned when nothing matches. Metrics only: verdict logic
// must never depend on this.
func TriggeredAt(raw []byte) time.Time {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return time.Time{}
	}
	var max time.Time
	scanTimestamps(doc, &max)
	return max
}

func scanTimestamps(v interface{}, max *time.Time) {
	switch t := v.(type) {
	case map[string]interface{}:
		for key, value := range t {
			if s, ok := value.(string); ok {
				if strings.HasSuffix(key, "_at") {
					if ts, err := time.Parse(time.RFC3339, s); err == nil && ts.After(*max) {
						*max = ts
					}
				}
				continue
			}
			scanTimestamps(value, max)
		}
	case []interface{}:
		for _, item := range t {
			scanTimestamps(item, max)
		}
	}
}
