package notify

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/oszuidwest/crest/internal/types"
	"github.com/oszuidwest/crest/internal/util"
)

// LogEvent appends a telemetry event to the notification log file.
//
//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func LogEvent(logPath string, ev types.TelemetryEvent) error {
	return appendLogEntry(logPath, &ev)
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, &types.TelemetryEvent{
		Type:    types.TelemetrySystem,
		Message: "test",
	})
}

// appendLogEntry appends a log entry to the file.
func appendLogEntry(logPath string, entry *types.TelemetryEvent) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(jsonData); err != nil {
		return util.WrapError("write log entry", err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		return util.WrapError("write newline", err)
	}

	return nil
}
