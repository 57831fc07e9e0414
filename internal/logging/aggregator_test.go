package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorRecord(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "agg.log")
	f, err := os.Create(logPath)
	require.NoError(t, err)
	defer f.Close()

	logger := slog.New(slog.NewJSONHandler(f, nil))
	agg := NewAggregator(logger, 1)
	agg.Start()

	agg.Record(CompPTY, "pty_chunk", slog.String("session_id", "s1"))
	agg.Record(CompPTY, "pty_chunk", slog.String("session_id", "s1"))
	agg.Record(CompPTY, "pty_chunk", slog.String("session_id", "s1"))
	agg.Record(CompSession, "subscriber_evicted")

	time.Sleep(1500 * time.Millisecond)
	agg.Stop()
	_ = f.Sync()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var records []map[string]any
	start := 0
	for i, b := range data {
		if b == '\n' {
			var r map[string]any
			if err := json.Unmarshal(data[start:i], &r); err == nil {
				records = append(records, r)
			}
			start = i + 1
		}
	}
	require.GreaterOrEqual(t, len(records), 2)

	found := false
	for _, r := range records {
		if r["event"] == "pty_chunk" && r["msg"] == "event_summary" {
			assert.Equal(t, float64(3), r["count"])
			assert.Equal(t, "s1", r["session_id"])
			found = true
		}
	}
	assert.True(t, found, "pty_chunk summary not found in output")
}

func TestAggregatorNilLogger(t *testing.T) {
	agg := NewAggregator(nil, 1)
	agg.Start()

	agg.Record(CompPTY, "test_event")

	time.Sleep(1200 * time.Millisecond)
	agg.Stop()
}

func TestAggregatorPending(t *testing.T) {
	agg := NewAggregator(nil, 60)
	agg.Record(CompPTY, "pty_chunk")
	agg.Record(CompPTY, "pty_chunk")

	assert.Equal(t, int64(2), agg.Pending(CompPTY, "pty_chunk"))
	assert.Equal(t, int64(0), agg.Pending(CompSession, "other"))
}

func TestAggregatorStopFlushesOnce(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "agg.log")
	f, err := os.Create(logPath)
	require.NoError(t, err)
	defer f.Close()

	logger := slog.New(slog.NewJSONHandler(f, nil))
	agg := NewAggregator(logger, 60)
	agg.Start()

	agg.Record(CompPoller, "scan_failed")

	agg.Stop()
	agg.Stop()
	_ = f.Sync()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotEmpty(t, data, "expected final flush on Stop")
}
