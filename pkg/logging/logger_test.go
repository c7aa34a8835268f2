package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryOutput collects entries for assertions.
type memoryOutput struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (o *memoryOutput) Write(e LogEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, e)
	return nil
}

func (o *memoryOutput) Sync() error  { return nil }
func (o *memoryOutput) Close() error { return nil }

func (o *memoryOutput) all() []LogEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]LogEntry, len(o.entries))
	copy(out, o.entries)
	return out
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input    string
		expected Severity
	}{
		{"DEBUG", DEBUG},
		{"INFO", INFO},
		{"WARN", WARN},
		{"ERROR", ERROR},
		{"FATAL", FATAL},
		{"verbose", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseSeverity(tt.input), "input %q", tt.input)
	}
}

func TestSeverityFiltering(t *testing.T) {
	out := &memoryOutput{}
	logger := NewLogger(Config{Severity: WARN, Outputs: []Output{out}})

	ctx := context.Background()
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, "warn message")
	logger.Error(ctx, "error message")

	entries := out.all()
	require.Len(t, entries, 2)
	assert.Equal(t, WARN, entries[0].Severity)
	assert.Equal(t, ERROR, entries[1].Severity)
}

func TestEntryCarriesDispatchState(t *testing.T) {
	out := &memoryOutput{}
	logger := NewLogger(Config{Severity: DEBUG, Outputs: []Output{out}})

	state := &core.ExecutionState{GoalID: "goal-42", TraceID: "trace-7", Mode: core.ModeFollower}
	ctx := core.WithExecutionState(context.Background(), state)
	logger.Info(ctx, "replaying step %d", 3)

	entries := out.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "replaying step 3", entries[0].Message)
	assert.Equal(t, "goal-42", entries[0].GoalID)
	assert.Equal(t, "trace-7", entries[0].TraceID)
	assert.Equal(t, core.ModeFollower.String(), entries[0].Mode)
	assert.Equal(t, "logger_test.go", entries[0].File)
}

func TestDefaultFieldsApplied(t *testing.T) {
	out := &memoryOutput{}
	logger := NewLogger(Config{
		Severity:      DEBUG,
		Outputs:       []Output{out},
		DefaultFields: map[string]interface{}{"service": "retrace"},
	})

	logger.Info(context.Background(), "hello")
	entries := out.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "retrace", entries[0].Fields["service"])
}

func TestFileOutputWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retrace.log")
	fileOut, err := NewFileOutput(path)
	require.NoError(t, err)

	logger := NewLogger(Config{Severity: DEBUG, Outputs: []Output{fileOut}})
	state := &core.ExecutionState{GoalID: "goal-1", Mode: core.ModeLearner}
	ctx := core.WithExecutionState(context.Background(), state)
	logger.Info(ctx, "learning new trace")
	logger.Warn(ctx, "trace %s drifted", "t-9")
	require.NoError(t, fileOut.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)

	assert.Equal(t, "learning new trace", lines[0]["message"])
	assert.Equal(t, "INFO", lines[0]["severity"])
	assert.Equal(t, "goal-1", lines[0]["goal_id"])
	assert.Equal(t, "trace t-9 drifted", lines[1]["message"])
	assert.Equal(t, "WARN", lines[1]["severity"])
}

func TestConsoleOutputFormat(t *testing.T) {
	var buf strings.Builder
	out := &ConsoleOutput{writer: &buf}

	require.NoError(t, out.Write(LogEntry{
		Severity: INFO,
		Message:  "dispatching goal",
		File:     "dispatcher.go",
		Line:     88,
		GoalID:   "goal-3",
		Mode:     "FOLLOWER",
	}))

	line := buf.String()
	assert.Contains(t, line, "INFO")
	assert.Contains(t, line, "dispatcher.go:88")
	assert.Contains(t, line, "dispatching goal")
	assert.Contains(t, line, "[goal=goal-3]")
	assert.Contains(t, line, "[mode=FOLLOWER]")
	assert.NotContains(t, line, "\033[", "color disabled by default for raw writers")
}

func TestFormatFieldsTruncatesLongGoalText(t *testing.T) {
	long := strings.Repeat("x", 200)
	formatted := formatFields(map[string]interface{}{"goal": long})
	assert.Contains(t, formatted, "...")
	assert.Less(t, len(formatted), 140)
}
