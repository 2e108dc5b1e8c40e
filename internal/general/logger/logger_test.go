package logger

import (
	"context"
	"encoding/json"
	"testing"
)

func TestContextCarriers(t *testing.T) {
	l := New("test")
	ctx := context.Background()

	ctx = l.WithRequestID(ctx, "req-1")
	ctx = l.WithDriverID(ctx, "d1")

	if got := requestID(ctx); got != "req-1" {
		t.Errorf("request id = %q", got)
	}
	if got := driverID(ctx); got != "d1" {
		t.Errorf("driver id = %q", got)
	}

	// blank values never overwrite, and empty contexts read as empty
	if l.WithRequestID(ctx, "  ") != ctx {
		t.Error("blank request id replaced the context")
	}
	if requestID(context.Background()) != "" || driverID(context.Background()) != "" {
		t.Error("empty context produced identifiers")
	}
}

func TestLogEntryShape(t *testing.T) {
	b, err := json.Marshal(LogEntry{
		Timestamp: "2024-01-01T00:00:00Z",
		Level:     "INFO",
		Service:   "location-hub",
		Action:    "driver_registered",
		Message:   "Driver connected",
		Hostname:  "host-1",
		RequestID: "req-1",
		DriverID:  "d1",
	})
	if err != nil {
		t.Fatal(err)
	}

	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"timestamp", "level", "service", "action", "message", "hostname", "request_id", "driver_id"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("log line missing %q", key)
		}
	}
	// optional fields are omitted, not emitted as null
	if _, ok := doc["error"]; ok {
		t.Error("empty error object serialized")
	}
	if _, ok := doc["details"]; ok {
		t.Error("empty details serialized")
	}
}

func TestSafeAction(t *testing.T) {
	if got := safeAction("  "); got != "unspecified" {
		t.Errorf("blank action = %q", got)
	}
	if got := safeAction(" driver_registered "); got != "driver_registered" {
		t.Errorf("action = %q", got)
	}
}
