package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTriggeredAtPicksLatestTimestamp(t *testing.T) {
	raw := []byte(`{
		"action": "created",
		"comment": {"created_at": "2023-04-01T10:00:00Z", "body": "hi"},
		"pull_request": {"updated_at": "2023-04-01T12:30:00Z", "created_at": "2023-03-28T09:00:00Z"}
	}`)
	assert.Equal(t, time.Date(2023, 4, 1, 12, 30, 0, 0, time.UTC), TriggeredAt(raw))
}

func TestTriggeredAtScansArrays(t *testing.T) {
	raw := []byte(`{"commits": [{"timestamp_at": "2023-04-01T10:00:00Z"}, {"timestamp_at": "2023-04-02T10:00:00Z"}]}`)
	assert.Equal(t, time.Date(2023, 4, 2, 10, 0, 0, 0, time.UTC), TriggeredAt(raw))
}

func TestTriggeredAtZeroCases(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "no timestamps", raw: `{"action": "created", "number": 4}`},
		{name: "malformed timestamp", raw: `{"created_at": "yesterday"}`},
		{name: "timestamp not a string", raw: `{"created_at": 1680343200}`},
		{name: "invalid json", raw: `{"action":`},
		{name: "empty payload", raw: ``},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, TriggeredAt([]byte(tc.raw)).IsZero())
		})
	}
}
