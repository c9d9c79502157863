package verifier

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/davidahmann/readerseal/core/config"
	"github.com/davidahmann/readerseal/core/ledger"
	"github.com/davidahmann/readerseal/core/manifest"
	"github.com/davidahmann/readerseal/core/replay"
	schemaledger "github.com/davidahmann/readerseal/core/schema/v1/ledger"
	schemapack "github.com/davidahmann/readerseal/core/schema/v1/pack"
)

var packBase = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func packEvent(eventType string, offsetMs int64, payload map[string]any) schemapack.Event {
	return schemapack.Event{
		Type:      eventType,
		Timestamp: packBase.Add(time.Duration(offsetMs) * time.Millisecond).Format(time.RFC3339Nano),
		Payload:   payload,
	}
}

// buildPack assembles a complete, internally consistent pack directory from a
// real session and its event log.
func buildPack(t *testing.T, includeMetrics bool) string {
	t.Helper()
	packDir := t.TempDir()

	session := ledger.NewSession()
	if err := session.Initialize("case-001", "reader-9"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := session.LockFirstImpression(ledger.FirstImpressionInput{
		Assessment:   "benign",
		Confidence:   70,
		TimeOnTaskMs: 4000,
		ImageLoadMs:  120,
		Timestamp:    packBase.Add(4 * time.Second),
	}); err != nil {
		t.Fatalf("LockFirstImpression: %v", err)
	}
	if _, err := session.RecordAIExposure(ledger.AIExposureInput{
		AIAssessment:     "suspicious",
		AIScore:          0.91,
		AIFlag:           true,
		Regions:          []schemaledger.Region{{RegionID: "r1"}},
		DisclosureFormat: "overlay",
		Acknowledgements: []schemaledger.RegionAck{{RegionID: "r1", DwellMs: 800, Viewed: true}},
		Timestamp:        packBase.Add(5 * time.Second),
	}); err != nil {
		t.Fatalf("RecordAIExposure: %v", err)
	}
	if _, err := session.RecordReconciliation(ledger.ReconciliationInput{
		Assessment: "suspicious",
		Confidence: 80,
		Timestamp:  packBase.Add(7 * time.Second),
	}); err != nil {
		t.Fatalf("RecordReconciliation: %v", err)
	}
	if err := ledger.WriteLedger(filepath.Join(packDir, schemapack.FileLedger), session.Entries()); err != nil {
		t.Fatalf("WriteLedger: %v", err)
	}

	eventsPath := filepath.Join(packDir, schemapack.FileEvents)
	for _, event := range []schemapack.Event{
		packEvent(schemapack.EventCaseLoaded, 0, map[string]any{"case_id": "case-001", "reader_id": "reader-9"}),
		packEvent(schemapack.EventEpisodeStart, 0, map[string]any{"episode_type": schemapack.EpisodeCaseTotal}),
		packEvent(schemapack.EventEpisodeStart, 0, map[string]any{"episode_type": schemapack.EpisodePreAIRead}),
		packEvent(schemapack.EventFirstImpressionLocked, 4000, map[string]any{"assessment": "benign"}),
		packEvent(schemapack.EventEpisodeEnd, 4000, map[string]any{"episode_type": schemapack.EpisodePreAIRead}),
		packEvent(schemapack.EventAIOutputShown, 5000, map[string]any{"ai_flag": true}),
		packEvent(schemapack.EventEpisodeStart, 5000, map[string]any{"episode_type": schemapack.EpisodeAIReview}),
		packEvent(schemapack.EventRegionViewed, 5500, map[string]any{"region_id": "r1"}),
		packEvent(schemapack.EventReconciliationSubmitted, 7000, map[string]any{"assessment": "suspicious"}),
		packEvent(schemapack.EventEpisodeEnd, 7000, map[string]any{"episode_type": schemapack.EpisodeAIReview}),
		packEvent(schemapack.EventEpisodeEnd, 7200, map[string]any{"episode_type": schemapack.EpisodeCaseTotal}),
		packEvent(schemapack.EventCaseCompleted, 7200, nil),
	} {
		if err := replay.AppendEvent(eventsPath, event); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	manifestPaths := []string{schemapack.FileLedger, schemapack.FileEvents}
	if includeMetrics {
		events, err := replay.ReadEvents(eventsPath)
		if err != nil {
			t.Fatalf("ReadEvents: %v", err)
		}
		result, err := replay.Replay(events, replay.Options{})
		if err != nil {
			t.Fatalf("Replay: %v", err)
		}
		if err := replay.WriteCSV(filepath.Join(packDir, schemapack.FileDerivedMetrics), result.Cases); err != nil {
			t.Fatalf("WriteCSV: %v", err)
		}
		manifestPaths = append(manifestPaths, schemapack.FileDerivedMetrics)
	}

	writeManifest(t, packDir, manifestPaths)
	return packDir
}

func writeManifest(t *testing.T, packDir string, paths []string) {
	t.Helper()
	declared, err := manifest.Build(packDir, paths, "0.1.0-test", packBase.Add(10*time.Second))
	if err != nil {
		t.Fatalf("manifest.Build: %v", err)
	}
	if err := manifest.Write(filepath.Join(packDir, schemapack.FileManifest), declared); err != nil {
		t.Fatalf("manifest.Write: %v", err)
	}
}

func stageByName(t *testing.T, report Report, name string) StageResult {
	t.Helper()
	for _, stage := range report.Stages {
		if stage.Name == name {
			return stage
		}
	}
	t.Fatalf("stage %s missing from report: %+v", name, report.Stages)
	return StageResult{}
}

func TestVerifyCleanPackPasses(t *testing.T) {
	packDir := buildPack(t, true)
	report, err := Verify(packDir, config.Default())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.Pass() {
		t.Fatalf("expected pass, got %+v", report.Stages)
	}
	for _, name := range []string{StageFiles, StageManifest, StageLedger, StageEvents, StageDerivedMetrics} {
		stage := stageByName(t, report, name)
		if stage.Skipped || !stage.Pass {
			t.Fatalf("stage %s: %+v", name, stage)
		}
	}
}

func TestVerifyMissingRequiredFileSkipsRest(t *testing.T) {
	packDir := buildPack(t, true)
	if err := os.Remove(filepath.Join(packDir, schemapack.FileLedger)); err != nil {
		t.Fatalf("remove ledger: %v", err)
	}
	report, err := Verify(packDir, config.Default())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Pass() {
		t.Fatal("expected failure for a pack missing ledger.json")
	}
	files := stageByName(t, report, StageFiles)
	if files.Pass || len(files.Errors) == 0 {
		t.Fatalf("files stage: %+v", files)
	}
	for _, name := range []string{StageManifest, StageLedger, StageEvents, StageDerivedMetrics} {
		if stage := stageByName(t, report, name); !stage.Skipped {
			t.Fatalf("stage %s should be skipped: %+v", name, stage)
		}
	}
}

func TestVerifyTamperedLedger(t *testing.T) {
	packDir := buildPack(t, true)
	ledgerPath := filepath.Join(packDir, schemapack.FileLedger)
	raw, err := os.ReadFile(ledgerPath)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	tampered := strings.Replace(string(raw), `"benign"`, `"malignant"`, 1)
	if err := os.WriteFile(ledgerPath, []byte(tampered), 0o600); err != nil {
		t.Fatalf("write tampered ledger: %v", err)
	}

	report, err := Verify(packDir, config.Default())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Pass() {
		t.Fatal("tampered ledger verified clean")
	}
	// The manifest digest no longer matches and the chain is broken; both
	// stages must report, neither may stop the other.
	if stage := stageByName(t, report, StageManifest); stage.Pass {
		t.Fatalf("manifest stage should fail: %+v", stage)
	}
	if stage := stageByName(t, report, StageLedger); stage.Pass {
		t.Fatalf("ledger stage should fail: %+v", stage)
	}
	if stage := stageByName(t, report, StageEvents); stage.Pass {
		t.Fatalf("events cross-check should fail: %+v", stage)
	}
}

func TestVerifyPublishedMetricsDrift(t *testing.T) {
	packDir := buildPack(t, true)
	metricsPath := filepath.Join(packDir, schemapack.FileDerivedMetrics)
	raw, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	drifted := strings.Replace(string(raw), "4000", "4100", 1)
	if err := os.WriteFile(metricsPath, []byte(drifted), 0o600); err != nil {
		t.Fatalf("write drifted metrics: %v", err)
	}
	// Re-manifest so only the metrics diff can fail.
	writeManifest(t, packDir, []string{schemapack.FileLedger, schemapack.FileEvents, schemapack.FileDerivedMetrics})

	report, err := Verify(packDir, config.Default())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Pass() {
		t.Fatal("drifted metrics verified clean")
	}
	metricsStage := stageByName(t, report, StageDerivedMetrics)
	if metricsStage.Pass || len(metricsStage.Errors) != 1 {
		t.Fatalf("derived metrics stage: %+v", metricsStage)
	}
	if !strings.Contains(metricsStage.Errors[0], "preAiReadMs") {
		t.Fatalf("mismatch should name the column: %v", metricsStage.Errors[0])
	}
	for _, name := range []string{StageFiles, StageManifest, StageLedger, StageEvents} {
		if stage := stageByName(t, report, name); !stage.Pass {
			t.Fatalf("stage %s should pass: %+v", name, stage)
		}
	}

	// The same drift is inside a widened tolerance.
	cfg := config.Default()
	cfg.TimingToleranceMs = 200
	report, err = Verify(packDir, cfg)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.Pass() {
		t.Fatalf("expected pass with 200ms tolerance, got %+v", report.Stages)
	}
}

func TestVerifyWithoutOptionalMetrics(t *testing.T) {
	packDir := buildPack(t, false)
	report, err := Verify(packDir, config.Default())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.Pass() {
		t.Fatalf("expected pass, got %+v", report.Stages)
	}
	stage := stageByName(t, report, StageDerivedMetrics)
	if !stage.Skipped {
		t.Fatalf("derived metrics stage should be skipped: %+v", stage)
	}
}

func TestVerifyUnreadableDirectory(t *testing.T) {
	report, err := Verify(filepath.Join(t.TempDir(), "nope"), config.Default())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Pass() {
		t.Fatal("nonexistent pack directory verified clean")
	}
}
