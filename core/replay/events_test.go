package replay

import (
	"os"
	"path/filepath"
	"testing"

	coreerrors "github.com/davidahmann/readerseal/core/errors"
	schemapack "github.com/davidahmann/readerseal/core/schema/v1/pack"
)

func TestAppendAndReadEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	first := stampedEvent(schemapack.EventCaseLoaded, 0, map[string]any{"case_id": "case-1"})
	second := stampedEvent(schemapack.EventCaseCompleted, 500, nil)
	if err := AppendEvent(path, first); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := AppendEvent(path, second); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	events, err := ReadEvents(path)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != schemapack.EventCaseLoaded || events[1].Type != schemapack.EventCaseCompleted {
		t.Fatalf("event order: %+v", events)
	}
	if got := events[0].Payload["case_id"]; got != "case-1" {
		t.Fatalf("payload round trip: %v", got)
	}
}

func TestAppendEventFillsTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := AppendEvent(path, schemapack.Event{Type: schemapack.EventCaseLoaded, Payload: map[string]any{"case_id": "c"}}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	events, err := ReadEvents(path)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if events[0].Timestamp == "" {
		t.Fatal("AppendEvent left timestamp empty")
	}
}

func TestAppendEventRequiresType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := AppendEvent(path, schemapack.Event{Timestamp: "2026-03-14T09:00:00Z"}); err == nil {
		t.Fatal("expected an error for an event without a type")
	}
}

func TestReadEventsMissingFile(t *testing.T) {
	_, err := ReadEvents(filepath.Join(t.TempDir(), "events.jsonl"))
	if err == nil {
		t.Fatal("expected missing file error")
	}
	if got := coreerrors.CategoryOf(err); got != coreerrors.CategoryMissingFile {
		t.Fatalf("category = %q, want missing_file", got)
	}
}

func TestReadEventsRejectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := `{"type":"CASE_LOADED","timestamp":"2026-03-14T09:00:00Z","payload":{"case_id":"c"}}` + "\n" +
		`{"type": not json` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	_, err := ReadEvents(path)
	if err == nil {
		t.Fatal("expected a parse failure, a partially replayed log is undefined")
	}
	if got := coreerrors.CategoryOf(err); got != coreerrors.CategoryParseError {
		t.Fatalf("category = %q, want parse_error", got)
	}
}

func TestReadEventsRejectsBadTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := `{"type":"CASE_LOADED","timestamp":"yesterday","payload":{"case_id":"c"}}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := ReadEvents(path); err == nil {
		t.Fatal("expected a timestamp validation error")
	}
}

func TestReadEventsSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := "\n" + `{"type":"CASE_LOADED","timestamp":"2026-03-14T09:00:00Z","payload":{"case_id":"c"}}` + "\n\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	events, err := ReadEvents(path)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
}
