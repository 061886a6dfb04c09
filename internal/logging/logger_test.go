package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rverma/cbcuckoofilter/internal/logging"
)

func TestLoggerWritesJSONEntries(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.Config{
		Level:      logging.INFO,
		NodeID:     "test-node",
		BufferSize: 10,
	})
	defer logger.Close()
	logger.AddWriter(&buf)

	logger.Info(context.Background(), logging.ComponentCBCF, logging.ActionScrub, "scrub completed", map[string]interface{}{
		"occupancy": 0.42,
	})

	// The writer goroutine is asynchronous; give it a moment to drain.
	time.Sleep(50 * time.Millisecond)

	if buf.Len() == 0 {
		t.Fatal("expected at least one log line to be written")
	}

	var entry logging.LogEntry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("failed to unmarshal log entry: %v", err)
	}
	if entry.Component != logging.ComponentCBCF {
		t.Errorf("expected component %q, got %q", logging.ComponentCBCF, entry.Component)
	}
	if entry.Action != logging.ActionScrub {
		t.Errorf("expected action %q, got %q", logging.ActionScrub, entry.Action)
	}
	if entry.Fields["occupancy"] != 0.42 {
		t.Errorf("expected occupancy field 0.42, got %v", entry.Fields["occupancy"])
	}
}

func TestLoggerRespectsLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.Config{
		Level:      logging.WARN,
		NodeID:     "test-node",
		BufferSize: 10,
	})
	defer logger.Close()
	logger.AddWriter(&buf)

	logger.Debug(context.Background(), logging.ComponentBloom, logging.ActionInsert, "should be filtered out")
	time.Sleep(50 * time.Millisecond)

	if buf.Len() != 0 {
		t.Errorf("expected DEBUG entry to be filtered at WARN level, got: %s", buf.String())
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	id := logging.NewCorrelationID()
	ctx := logging.WithCorrelationID(context.Background(), id)

	if got := logging.GetCorrelationID(ctx); got != id {
		t.Errorf("GetCorrelationID() = %q, want %q", got, id)
	}
	if got := logging.GetCorrelationID(context.Background()); got != "" {
		t.Errorf("GetCorrelationID() on bare context should be empty, got %q", got)
	}
}

func TestLogLevelFromString(t *testing.T) {
	cases := map[string]logging.LogLevel{
		"debug":   logging.DEBUG,
		"INFO":    logging.INFO,
		"warn":    logging.WARN,
		"warning": logging.WARN,
		"error":   logging.ERROR,
		"fatal":   logging.FATAL,
		"bogus":   logging.INFO,
	}
	for input, want := range cases {
		if got := logging.LogLevelFromString(input); got != want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", input, got, want)
		}
	}
}
