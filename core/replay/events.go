// Package replay re-derives per-case analytics purely from the raw event log.
// It is the independent oracle the verifier diffs published metrics against,
// so nothing in here may read a cached or derived output.
package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/readerseal/core/errors"
	"github.com/davidahmann/readerseal/core/fsx"
	schemapack "github.com/davidahmann/readerseal/core/schema/v1/pack"
)

// ReadEvents streams events.jsonl line by line. Malformed lines are fatal for
// the whole stage: replay over partially parsed data would be undefined.
func ReadEvents(path string) ([]schemapack.Event, error) {
	// #nosec G304 -- events path is an explicit local path.
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coreerrors.Wrap(fmt.Errorf("event log missing: %s", path), coreerrors.CategoryMissingFile, "missing_file", "the pack directory must contain events.jsonl")
		}
		return nil, coreerrors.Wrap(fmt.Errorf("open event log: %w", err), coreerrors.CategoryIOFailure, "open_failed", "")
	}
	defer func() {
		_ = file.Close()
	}()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 128*1024), 8*1024*1024)
	lineNo := 0
	var events []schemapack.Event
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var event schemapack.Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, parseFailure(fmt.Errorf("event log line %d: %w", lineNo, err))
		}
		if strings.TrimSpace(event.Type) == "" {
			return nil, parseFailure(fmt.Errorf("event log line %d: missing type", lineNo))
		}
		if _, err := parseEventTime(event.Timestamp); err != nil {
			return nil, parseFailure(fmt.Errorf("event log line %d: %w", lineNo, err))
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("read event log: %w", err), coreerrors.CategoryIOFailure, "read_failed", "")
	}
	return events, nil
}

// AppendEvent writes one event line; the producing side calls this as phases
// are recorded.
func AppendEvent(path string, event schemapack.Event) error {
	if strings.TrimSpace(event.Type) == "" {
		return fmt.Errorf("event type is required")
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return fsx.AppendLine(path, encoded, 0o600)
}

func parseEventTime(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
	}
	return parsed.UTC(), nil
}

func parseFailure(cause error) error {
	return coreerrors.Wrap(cause, coreerrors.CategoryParseError, "event_log_invalid", "events.jsonl must hold one JSON event per line with type and timestamp")
}

func payloadString(event schemapack.Event, key string) string {
	if event.Payload == nil {
		return ""
	}
	value, _ := event.Payload[key].(string)
	return strings.TrimSpace(value)
}

func payloadBool(event schemapack.Event, key string) (bool, bool) {
	if event.Payload == nil {
		return false, false
	}
	value, ok := event.Payload[key].(bool)
	return value, ok
}
