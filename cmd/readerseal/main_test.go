package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunWithoutArgumentsIsUsageError(t *testing.T) {
	if code := run([]string{"readerseal"}); code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if code := run([]string{"readerseal", "frobnicate"}); code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
}

func TestRunVersion(t *testing.T) {
	for _, argument := range []string{"version", "--version", "-v"} {
		if code := run([]string{"readerseal", argument}); code != exitOK {
			t.Fatalf("%s: exit = %d, want %d", argument, code, exitOK)
		}
	}
}

func TestVerifyRequiresPackDir(t *testing.T) {
	if code := run([]string{"readerseal", "verify"}); code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
	if code := run([]string{"readerseal", "verify", "a", "b"}); code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
}

func TestVerifyNonexistentPackFails(t *testing.T) {
	packDir := filepath.Join(t.TempDir(), "missing")
	if code := run([]string{"readerseal", "verify", packDir}); code != exitVerifyFailed {
		t.Fatalf("exit = %d, want %d", code, exitVerifyFailed)
	}
}

// exportedPack drives a whole session through the CLI and returns the pack
// directory it exported.
func exportedPack(t *testing.T) string {
	t.Helper()
	sessionDir := filepath.Join(t.TempDir(), "session")
	packDir := filepath.Join(t.TempDir(), "pack")

	steps := [][]string{
		{"readerseal", "session", "init", "--dir", sessionDir, "--case", "case-001", "--reader", "reader-9"},
		{"readerseal", "session", "lock-first", "--dir", sessionDir, "--assessment", "benign", "--confidence", "70", "--time-on-task-ms", "4000"},
		{"readerseal", "session", "expose-ai", "--dir", sessionDir, "--ai-assessment", "suspicious", "--ai-score", "0.91", "--ai-flag",
			"--regions", "r1,r2", "--acks", "r1=800,r2=650"},
		{"readerseal", "session", "reconcile", "--dir", sessionDir, "--assessment", "suspicious", "--confidence", "80"},
		{"readerseal", "session", "export", "--dir", sessionDir, "--out", packDir},
	}
	for _, step := range steps {
		if code := run(step); code != exitOK {
			t.Fatalf("%s: exit = %d, want %d", strings.Join(step[1:3], " "), code, exitOK)
		}
	}
	return packDir
}

func TestSessionLifecycleExportsVerifiablePack(t *testing.T) {
	packDir := exportedPack(t)

	for _, name := range []string{"export_manifest.json", "ledger.json", "events.jsonl", "derived_metrics.csv"} {
		if _, err := os.Stat(filepath.Join(packDir, name)); err != nil {
			t.Fatalf("pack file %s: %v", name, err)
		}
	}
	if code := run([]string{"readerseal", "verify", packDir}); code != exitOK {
		t.Fatalf("verify exit = %d, want %d", code, exitOK)
	}
	if code := run([]string{"readerseal", "verify", packDir, "--json"}); code != exitOK {
		t.Fatalf("verify --json exit = %d, want %d", code, exitOK)
	}
}

func TestVerifyDetectsTamperedPack(t *testing.T) {
	packDir := exportedPack(t)
	ledgerPath := filepath.Join(packDir, "ledger.json")
	raw, err := os.ReadFile(ledgerPath)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	tampered := strings.Replace(string(raw), `"benign"`, `"malignant"`, 1)
	if err := os.WriteFile(ledgerPath, []byte(tampered), 0o600); err != nil {
		t.Fatalf("write tampered ledger: %v", err)
	}
	if code := run([]string{"readerseal", "verify", packDir}); code != exitVerifyFailed {
		t.Fatalf("verify exit = %d, want %d", code, exitVerifyFailed)
	}
}

func TestSessionPhaseGateFromCLI(t *testing.T) {
	sessionDir := filepath.Join(t.TempDir(), "session")
	if code := run([]string{"readerseal", "session", "init", "--dir", sessionDir, "--case", "c1", "--reader", "r1"}); code != exitOK {
		t.Fatalf("init exit = %d", code)
	}
	// Reconciliation before first impression must be refused.
	if code := run([]string{"readerseal", "session", "reconcile", "--dir", sessionDir, "--assessment", "benign", "--confidence", "50"}); code != exitVerifyFailed {
		t.Fatalf("out-of-phase reconcile exit = %d, want %d", code, exitVerifyFailed)
	}
	// Export before the case completes must be refused.
	if code := run([]string{"readerseal", "session", "export", "--dir", sessionDir, "--out", filepath.Join(t.TempDir(), "pack")}); code != exitVerifyFailed {
		t.Fatalf("early export exit = %d, want %d", code, exitVerifyFailed)
	}
}

func TestSessionInitRequiresIdentity(t *testing.T) {
	if code := run([]string{"readerseal", "session", "init", "--dir", filepath.Join(t.TempDir(), "s")}); code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
}

func TestSessionStatusReportsPhase(t *testing.T) {
	sessionDir := filepath.Join(t.TempDir(), "session")
	if code := run([]string{"readerseal", "session", "init", "--dir", sessionDir, "--case", "c1", "--reader", "r1"}); code != exitOK {
		t.Fatalf("init exit = %d", code)
	}
	if code := run([]string{"readerseal", "session", "status", "--dir", sessionDir, "--json"}); code != exitOK {
		t.Fatalf("status exit = %d", code)
	}
}
