// Package verifier runs the full pack verification pipeline: file layout,
// manifest digests, ledger chain, event replay, and the derived-metrics diff.
// Stages that can still produce evidence keep running after earlier failures;
// a stage is skipped only when its input is unusable.
package verifier

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/davidahmann/readerseal/core/config"
	"github.com/davidahmann/readerseal/core/ledger"
	"github.com/davidahmann/readerseal/core/manifest"
	"github.com/davidahmann/readerseal/core/metricsdiff"
	"github.com/davidahmann/readerseal/core/replay"
	schemaledger "github.com/davidahmann/readerseal/core/schema/v1/ledger"
	schemapack "github.com/davidahmann/readerseal/core/schema/v1/pack"
	"github.com/davidahmann/readerseal/core/schema/validate"
)

// Stage names, in pipeline order.
const (
	StageFiles          = "files"
	StageManifest       = "manifest"
	StageLedger         = "ledger"
	StageEvents         = "events"
	StageDerivedMetrics = "derived_metrics"
)

type StageResult struct {
	Name     string   `json:"name"`
	Pass     bool     `json:"pass"`
	Skipped  bool     `json:"skipped,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type Report struct {
	PackDir string        `json:"pack_dir"`
	Stages  []StageResult `json:"stages"`
}

// Pass reports whether every non-skipped stage passed.
func (report Report) Pass() bool {
	for _, stage := range report.Stages {
		if stage.Skipped {
			continue
		}
		if !stage.Pass {
			return false
		}
	}
	return true
}

// Verify runs all stages against packDir. It returns an error only for
// internal failures; verification findings live in the report.
func Verify(packDir string, cfg config.Config) (Report, error) {
	report := Report{PackDir: packDir}

	filesResult, required := verifyFiles(packDir)
	report.Stages = append(report.Stages, filesResult)
	if !required {
		report.Stages = append(report.Stages,
			skipped(StageManifest, "required files missing"),
			skipped(StageLedger, "required files missing"),
			skipped(StageEvents, "required files missing"),
			skipped(StageDerivedMetrics, "required files missing"),
		)
		return report, nil
	}

	report.Stages = append(report.Stages, verifyManifest(packDir))

	ledgerResult, entries := verifyLedger(packDir)
	report.Stages = append(report.Stages, ledgerResult)

	eventsResult, replayed := verifyEvents(packDir, cfg, entries)
	report.Stages = append(report.Stages, eventsResult)

	report.Stages = append(report.Stages, verifyDerivedMetrics(packDir, cfg, replayed, eventsResult))
	return report, nil
}

// verifyFiles checks the pack layout. The second return value reports whether
// every required file is present.
func verifyFiles(packDir string) (StageResult, bool) {
	result := StageResult{Name: StageFiles, Pass: true}

	info, err := os.Stat(packDir)
	if err != nil || !info.IsDir() {
		result.Pass = false
		result.Errors = append(result.Errors, fmt.Sprintf("pack directory not readable: %s", packDir))
		return result, false
	}

	for _, name := range []string{schemapack.FileManifest, schemapack.FileLedger, schemapack.FileEvents} {
		if _, err := os.Stat(filepath.Join(packDir, name)); err != nil {
			result.Pass = false
			result.Errors = append(result.Errors, fmt.Sprintf("required file missing: %s", name))
		}
	}
	for _, name := range []string{schemapack.FileDerivedMetrics, schemapack.FileTrialManifest, schemapack.FileCodebook} {
		if _, err := os.Stat(filepath.Join(packDir, name)); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("optional file not present: %s", name))
		}
	}
	return result, result.Pass
}

func verifyManifest(packDir string) StageResult {
	result := StageResult{Name: StageManifest, Pass: true}

	manifestPath := filepath.Join(packDir, schemapack.FileManifest)
	raw, err := os.ReadFile(manifestPath) // #nosec G304 -- pack path given by the caller
	if err != nil {
		return failStage(result, fmt.Sprintf("read %s: %v", schemapack.FileManifest, err))
	}
	if err := validate.Manifest(raw); err != nil {
		return failStage(result, err.Error())
	}
	declared, err := manifest.Read(manifestPath)
	if err != nil {
		return failStage(result, err.Error())
	}
	if len(declared.Entries) == 0 {
		return failStage(result, "manifest declares no files")
	}
	for _, entry := range declared.Entries {
		if entry.Path == schemapack.FileManifest {
			result.Pass = false
			result.Errors = append(result.Errors, "manifest must not list itself")
		}
	}

	check := manifest.Check(packDir, declared)
	for _, missing := range check.MissingFiles {
		result.Pass = false
		result.Errors = append(result.Errors, fmt.Sprintf("declared file missing: %s", missing))
	}
	for _, mismatch := range check.Mismatches {
		result.Pass = false
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s expected %s, got %s",
			mismatch.Path, mismatch.Field, mismatch.Expected, mismatch.Actual))
	}
	return result
}

func verifyLedger(packDir string) (StageResult, []schemaledger.Entry) {
	result := StageResult{Name: StageLedger, Pass: true}

	ledgerPath := filepath.Join(packDir, schemapack.FileLedger)
	raw, err := os.ReadFile(ledgerPath) // #nosec G304 -- pack path given by the caller
	if err != nil {
		return failStage(result, fmt.Sprintf("read %s: %v", schemapack.FileLedger, err)), nil
	}
	if err := validate.Ledger(raw); err != nil {
		return failStage(result, err.Error()), nil
	}
	entries, err := ledger.ReadLedger(ledgerPath)
	if err != nil {
		return failStage(result, err.Error()), nil
	}
	if len(entries) == 0 {
		result.Warnings = append(result.Warnings, "ledger holds no entries")
		return result, entries
	}
	for _, violation := range ledger.ValidateChain(entries) {
		result.Pass = false
		result.Errors = append(result.Errors, violation.String())
	}
	return result, entries
}

func verifyEvents(packDir string, cfg config.Config, entries []schemaledger.Entry) (StageResult, []replay.CaseMetrics) {
	result := StageResult{Name: StageEvents, Pass: true}

	eventsPath := filepath.Join(packDir, schemapack.FileEvents)
	raw, err := os.ReadFile(eventsPath) // #nosec G304 -- pack path given by the caller
	if err != nil {
		return failStage(result, fmt.Sprintf("read %s: %v", schemapack.FileEvents, err)), nil
	}
	if err := validate.Events(raw); err != nil {
		return failStage(result, err.Error()), nil
	}
	events, err := replay.ReadEvents(eventsPath)
	if err != nil {
		return failStage(result, err.Error()), nil
	}
	replayed, err := replay.Replay(events, cfg.ReplayOptions())
	if err != nil {
		return failStage(result, err.Error()), nil
	}
	result.Warnings = append(result.Warnings, replayed.Warnings...)
	for _, metrics := range replayed.Cases {
		for _, episode := range metrics.SuspiciousTimings {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("case %s: %s duration below the plausibility floor", metrics.CaseID, episode))
		}
	}

	crossCheckLedger(&result, entries, replayed.Cases)
	return result, replayed.Cases
}

// crossCheckLedger compares the sealed ledger against the replayed event log
// when the pack covers a single case. A disagreement means one of the two
// records was edited after the fact.
func crossCheckLedger(result *StageResult, entries []schemaledger.Entry, cases []replay.CaseMetrics) {
	if len(entries) == 0 || len(cases) != 1 {
		return
	}
	metrics := cases[0]

	if first := entries[0].FirstImpression; first != nil && metrics.InitialAssessment != "" {
		if first.Assessment != metrics.InitialAssessment {
			result.Pass = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"first impression disagrees with event log: ledger %q, events %q",
				first.Assessment, metrics.InitialAssessment))
		}
	}
	if len(entries) >= 3 {
		if final := entries[2].Reconciliation; final != nil && metrics.FinalAssessment != "" {
			if final.Assessment != metrics.FinalAssessment {
				result.Pass = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"reconciled assessment disagrees with event log: ledger %q, events %q",
					final.Assessment, metrics.FinalAssessment))
			}
		}
	}
}

func verifyDerivedMetrics(packDir string, cfg config.Config, replayed []replay.CaseMetrics, eventsResult StageResult) StageResult {
	result := StageResult{Name: StageDerivedMetrics, Pass: true}

	metricsPath := filepath.Join(packDir, schemapack.FileDerivedMetrics)
	file, err := os.Open(metricsPath) // #nosec G304 -- pack path given by the caller
	if err != nil {
		if os.IsNotExist(err) {
			return skipped(StageDerivedMetrics, "derived_metrics.csv not present")
		}
		return failStage(result, fmt.Sprintf("open %s: %v", schemapack.FileDerivedMetrics, err))
	}
	defer func() {
		_ = file.Close()
	}()

	if eventsResult.Skipped || !eventsResult.Pass {
		return skipped(StageDerivedMetrics, "replay unavailable, published metrics cannot be checked")
	}

	published, err := replay.ReadCSV(file)
	if err != nil {
		return failStage(result, err.Error())
	}
	diff := metricsdiff.Diff(replayed, published, cfg.DiffOptions())
	for _, mismatch := range diff.Mismatches {
		result.Pass = false
		result.Errors = append(result.Errors, fmt.Sprintf(
			"case %s column %s: expected %s, got %s",
			mismatch.CaseID, mismatch.Column, mismatch.Expected, mismatch.Actual))
	}
	return result
}

func failStage(result StageResult, message string) StageResult {
	result.Pass = false
	result.Errors = append(result.Errors, message)
	return result
}

func skipped(name, reason string) StageResult {
	return StageResult{
		Name:     name,
		Skipped:  true,
		Warnings: []string{reason},
	}
}
