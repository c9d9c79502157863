package fsx

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := WriteFileAtomic(path, []byte("first"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(content) != "second" {
		t.Fatalf("expected replaced content, got %q", content)
	}
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	if err := WriteFileAtomic(path, []byte("data"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single file, found %d entries", len(entries))
	}
}

func TestAppendLineAddsNewlinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := AppendLine(path, []byte(`{"type":"CASE_LOADED"}`), 0o600); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := AppendLine(path, []byte(`{"type":"CASE_COMPLETED"}`), 0o600); err != nil {
		t.Fatalf("append: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	expected := "{\"type\":\"CASE_LOADED\"}\n{\"type\":\"CASE_COMPLETED\"}\n"
	if string(content) != expected {
		t.Fatalf("unexpected journal content: %q", content)
	}
}

func TestAppendLineCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")
	if err := AppendLine(path, []byte("{}"), 0o600); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}
