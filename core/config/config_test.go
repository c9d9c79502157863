package config

import (
	"os"
	"path/filepath"
	"testing"

	coreerrors "github.com/davidahmann/readerseal/core/errors"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), DefaultFileName))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("cfg = %+v, want defaults %+v", cfg, Default())
	}
}

func TestLoadOverridesAndKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte("timing_tolerance_ms: 200\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TimingToleranceMs != 200 {
		t.Fatalf("timing_tolerance_ms = %d, want 200", cfg.TimingToleranceMs)
	}
	if cfg.MinPlausibleMs != Default().MinPlausibleMs || cfg.Epsilon != Default().Epsilon {
		t.Fatalf("unset keys must keep defaults: %+v", cfg)
	}
	if got := cfg.DiffOptions().TimingToleranceMs; got != 200 {
		t.Fatalf("DiffOptions tolerance = %d, want 200", got)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte("timig_tolerance_ms: 200\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatal("misspelled key accepted")
	}
	if got := coreerrors.CategoryOf(err); got != coreerrors.CategoryParseError {
		t.Fatalf("category = %q, want parse_error", got)
	}
}

func TestLoadRejectsNegativeValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte("min_plausible_ms: -1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("negative min_plausible_ms accepted")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte(":\n\t- nope"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed YAML accepted")
	}
}
