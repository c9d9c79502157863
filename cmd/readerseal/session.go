package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/davidahmann/readerseal/core/fsx"
	"github.com/davidahmann/readerseal/core/ledger"
	"github.com/davidahmann/readerseal/core/manifest"
	"github.com/davidahmann/readerseal/core/replay"
	schemaledger "github.com/davidahmann/readerseal/core/schema/v1/ledger"
	schemapack "github.com/davidahmann/readerseal/core/schema/v1/pack"
)

// defaultSessionDir holds the journal and event log while a case is being
// read; export turns it into a pack directory.
const defaultSessionDir = ".readerseal"

const journalFileName = "session.jsonl"

type sessionOutput struct {
	OK       bool   `json:"ok"`
	CaseID   string `json:"case_id,omitempty"`
	ReaderID string `json:"reader_id,omitempty"`
	Phase    string `json:"phase,omitempty"`
	Entries  int    `json:"entries,omitempty"`
	PackDir  string `json:"pack_dir,omitempty"`
	Error    string `json:"error,omitempty"`
}

func runSession(arguments []string) int {
	if len(arguments) < 1 {
		printSessionUsage()
		return exitUsage
	}
	if hasExplainFlag(arguments) {
		return writeExplain("Drive a phase-gated reading session: seal the first impression, record the AI exposure and reconciliation, then export a verifiable pack.")
	}
	switch arguments[0] {
	case "init":
		return runSessionInit(arguments[1:])
	case "lock-first":
		return runSessionLockFirst(arguments[1:])
	case "expose-ai":
		return runSessionExposeAI(arguments[1:])
	case "reconcile":
		return runSessionReconcile(arguments[1:])
	case "status":
		return runSessionStatus(arguments[1:])
	case "export":
		return runSessionExport(arguments[1:])
	default:
		printSessionUsage()
		return exitUsage
	}
}

func sessionFlagSet(name string) (*flag.FlagSet, *string, *bool) {
	flagSet := flag.NewFlagSet(name, flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	dir := flagSet.String("dir", defaultSessionDir, "session directory")
	jsonOutput := flagSet.Bool("json", false, "emit JSON output")
	return flagSet, dir, jsonOutput
}

func runSessionInit(arguments []string) int {
	flagSet, dir, jsonOutput := sessionFlagSet("session init")
	caseID := flagSet.String("case", "", "case identifier")
	readerID := flagSet.String("reader", "", "reader identifier")
	if err := flagSet.Parse(arguments); err != nil {
		return sessionFailure(false, err, exitUsage)
	}
	if strings.TrimSpace(*caseID) == "" || strings.TrimSpace(*readerID) == "" {
		return sessionFailure(*jsonOutput, fmt.Errorf("session init requires --case and --reader"), exitUsage)
	}

	_, statErr := os.Stat(journalPath(*dir))
	journalExists := statErr == nil
	now := time.Now().UTC()
	if err := ledger.StartJournal(journalPath(*dir), *caseID, *readerID, version, now); err != nil {
		return sessionFailure(*jsonOutput, err, exitCodeForError(err))
	}
	if journalExists {
		// Re-running init against the same case is a no-op; the events were
		// already recorded.
		return writeSessionStatus(*dir, *jsonOutput)
	}
	for _, event := range []schemapack.Event{
		{Type: schemapack.EventCaseLoaded, Payload: map[string]any{"case_id": *caseID, "reader_id": *readerID}},
		{Type: schemapack.EventEpisodeStart, Payload: map[string]any{"episode_type": schemapack.EpisodeCaseTotal}},
		{Type: schemapack.EventEpisodeStart, Payload: map[string]any{"episode_type": schemapack.EpisodePreAIRead}},
	} {
		if err := replay.AppendEvent(eventsPath(*dir), event); err != nil {
			return sessionFailure(*jsonOutput, err, exitVerifyFailed)
		}
	}
	return writeSessionStatus(*dir, *jsonOutput)
}

func runSessionLockFirst(arguments []string) int {
	flagSet, dir, jsonOutput := sessionFlagSet("session lock-first")
	assessment := flagSet.String("assessment", "", "first impression assessment")
	confidence := flagSet.Int("confidence", 0, "confidence 0-100")
	timeOnTask := flagSet.Int64("time-on-task-ms", 0, "time on task before locking")
	imageLoad := flagSet.Int64("image-load-ms", 0, "image load latency")
	if err := flagSet.Parse(arguments); err != nil {
		return sessionFailure(false, err, exitUsage)
	}

	session, err := ledger.Mutate(journalPath(*dir), func(session *ledger.Session) error {
		_, err := session.LockFirstImpression(ledger.FirstImpressionInput{
			Assessment:   *assessment,
			Confidence:   *confidence,
			TimeOnTaskMs: *timeOnTask,
			ImageLoadMs:  *imageLoad,
		})
		return err
	})
	if err != nil {
		return sessionFailure(*jsonOutput, err, exitCodeForError(err))
	}

	entries := session.Entries()
	locked := entries[len(entries)-1].FirstImpression
	for _, event := range []schemapack.Event{
		{Type: schemapack.EventFirstImpressionLocked, Payload: map[string]any{"assessment": locked.Assessment, "confidence": float64(locked.Confidence)}},
		{Type: schemapack.EventEpisodeEnd, Payload: map[string]any{"episode_type": schemapack.EpisodePreAIRead}},
	} {
		if err := replay.AppendEvent(eventsPath(*dir), event); err != nil {
			return sessionFailure(*jsonOutput, err, exitVerifyFailed)
		}
	}
	return writeSessionStatus(*dir, *jsonOutput)
}

func runSessionExposeAI(arguments []string) int {
	flagSet, dir, jsonOutput := sessionFlagSet("session expose-ai")
	aiAssessment := flagSet.String("ai-assessment", "", "assessment claimed by the AI")
	aiScore := flagSet.Float64("ai-score", 0, "AI score in [0,1]")
	aiFlag := flagSet.Bool("ai-flag", false, "AI flagged the case as actionable")
	disclosure := flagSet.String("disclosure", "overlay", "disclosure format shown to the reader")
	regionsFlag := flagSet.String("regions", "", "comma-separated region ids")
	acksFlag := flagSet.String("acks", "", "region acknowledgements as id=dwell_ms pairs")
	if err := flagSet.Parse(arguments); err != nil {
		return sessionFailure(false, err, exitUsage)
	}

	regions := parseRegions(*regionsFlag)
	acks, err := parseAcks(*acksFlag)
	if err != nil {
		return sessionFailure(*jsonOutput, err, exitUsage)
	}

	_, err = ledger.Mutate(journalPath(*dir), func(session *ledger.Session) error {
		_, err := session.RecordAIExposure(ledger.AIExposureInput{
			AIAssessment:     *aiAssessment,
			AIScore:          *aiScore,
			AIFlag:           *aiFlag,
			Regions:          regions,
			DisclosureFormat: *disclosure,
			Acknowledgements: acks,
		})
		return err
	})
	if err != nil {
		return sessionFailure(*jsonOutput, err, exitCodeForError(err))
	}

	events := []schemapack.Event{
		{Type: schemapack.EventAIOutputShown, Payload: map[string]any{"ai_flag": *aiFlag, "ai_score": *aiScore}},
		{Type: schemapack.EventEpisodeStart, Payload: map[string]any{"episode_type": schemapack.EpisodeAIReview}},
	}
	for _, ack := range acks {
		events = append(events, schemapack.Event{
			Type:    schemapack.EventRegionViewed,
			Payload: map[string]any{"region_id": ack.RegionID, "dwell_ms": float64(ack.DwellMs)},
		})
	}
	for _, event := range events {
		if err := replay.AppendEvent(eventsPath(*dir), event); err != nil {
			return sessionFailure(*jsonOutput, err, exitVerifyFailed)
		}
	}
	return writeSessionStatus(*dir, *jsonOutput)
}

func runSessionReconcile(arguments []string) int {
	flagSet, dir, jsonOutput := sessionFlagSet("session reconcile")
	assessment := flagSet.String("assessment", "", "final assessment")
	confidence := flagSet.Int("confidence", 0, "confidence 0-100")
	rationaleCode := flagSet.String("rationale-code", "", "deviation rationale code")
	rationaleText := flagSet.String("rationale-text", "", "deviation rationale text")
	if err := flagSet.Parse(arguments); err != nil {
		return sessionFailure(false, err, exitUsage)
	}

	var rationale *schemaledger.DeviationRationale
	if *rationaleCode != "" || *rationaleText != "" {
		rationale = &schemaledger.DeviationRationale{Code: *rationaleCode, Text: *rationaleText}
	}

	session, err := ledger.Mutate(journalPath(*dir), func(session *ledger.Session) error {
		_, err := session.RecordReconciliation(ledger.ReconciliationInput{
			Assessment: *assessment,
			Confidence: *confidence,
			Rationale:  rationale,
		})
		return err
	})
	if err != nil {
		return sessionFailure(*jsonOutput, err, exitCodeForError(err))
	}

	entries := session.Entries()
	final := entries[len(entries)-1].Reconciliation
	payload := map[string]any{"assessment": final.Assessment, "confidence": float64(final.Confidence)}
	if final.DeviationRationale != nil {
		payload["deviation_rationale"] = final.DeviationRationale.Text
	}
	for _, event := range []schemapack.Event{
		{Type: schemapack.EventReconciliationSubmitted, Payload: payload},
		{Type: schemapack.EventEpisodeEnd, Payload: map[string]any{"episode_type": schemapack.EpisodeAIReview}},
		{Type: schemapack.EventEpisodeEnd, Payload: map[string]any{"episode_type": schemapack.EpisodeCaseTotal}},
		{Type: schemapack.EventCaseCompleted, Payload: map[string]any{"case_id": session.CaseID()}},
	} {
		if err := replay.AppendEvent(eventsPath(*dir), event); err != nil {
			return sessionFailure(*jsonOutput, err, exitVerifyFailed)
		}
	}
	return writeSessionStatus(*dir, *jsonOutput)
}

func runSessionStatus(arguments []string) int {
	flagSet, dir, jsonOutput := sessionFlagSet("session status")
	if err := flagSet.Parse(arguments); err != nil {
		return sessionFailure(false, err, exitUsage)
	}
	return writeSessionStatus(*dir, *jsonOutput)
}

func runSessionExport(arguments []string) int {
	flagSet, dir, jsonOutput := sessionFlagSet("session export")
	outDir := flagSet.String("out", "", "pack output directory")
	withMetrics := flagSet.Bool("with-metrics", true, "publish derived_metrics.csv")
	if err := flagSet.Parse(arguments); err != nil {
		return sessionFailure(false, err, exitUsage)
	}
	if strings.TrimSpace(*outDir) == "" {
		return sessionFailure(*jsonOutput, fmt.Errorf("session export requires --out"), exitUsage)
	}

	session, _, err := ledger.LoadSession(journalPath(*dir))
	if err != nil {
		return sessionFailure(*jsonOutput, err, exitCodeForError(err))
	}
	if session.Phase() != ledger.PhaseComplete {
		return sessionFailure(*jsonOutput, fmt.Errorf("session is %s; export requires a completed case", session.Phase()), exitVerifyFailed)
	}
	if err := os.MkdirAll(*outDir, 0o750); err != nil {
		return sessionFailure(*jsonOutput, err, exitVerifyFailed)
	}

	if err := ledger.WriteLedger(filepath.Join(*outDir, schemapack.FileLedger), session.Entries()); err != nil {
		return sessionFailure(*jsonOutput, err, exitVerifyFailed)
	}
	rawEvents, err := os.ReadFile(eventsPath(*dir)) // #nosec G304 -- session dir given by the caller
	if err != nil {
		return sessionFailure(*jsonOutput, err, exitVerifyFailed)
	}
	if err := fsx.WriteFileAtomic(filepath.Join(*outDir, schemapack.FileEvents), rawEvents, 0o644); err != nil {
		return sessionFailure(*jsonOutput, err, exitVerifyFailed)
	}

	packFiles := []string{schemapack.FileLedger, schemapack.FileEvents}
	if *withMetrics {
		events, err := replay.ReadEvents(filepath.Join(*outDir, schemapack.FileEvents))
		if err != nil {
			return sessionFailure(*jsonOutput, err, exitVerifyFailed)
		}
		result, err := replay.Replay(events, replay.Options{})
		if err != nil {
			return sessionFailure(*jsonOutput, err, exitVerifyFailed)
		}
		if err := replay.WriteCSV(filepath.Join(*outDir, schemapack.FileDerivedMetrics), result.Cases); err != nil {
			return sessionFailure(*jsonOutput, err, exitVerifyFailed)
		}
		packFiles = append(packFiles, schemapack.FileDerivedMetrics)
	}

	// The manifest goes last so it covers the final bytes of every file.
	declared, err := manifest.Build(*outDir, packFiles, version, time.Now().UTC())
	if err != nil {
		return sessionFailure(*jsonOutput, err, exitVerifyFailed)
	}
	if err := manifest.Write(filepath.Join(*outDir, schemapack.FileManifest), declared); err != nil {
		return sessionFailure(*jsonOutput, err, exitVerifyFailed)
	}

	output := sessionOutput{OK: true, CaseID: session.CaseID(), ReaderID: session.ReaderID(), Phase: string(session.Phase()), Entries: len(session.Entries()), PackDir: *outDir}
	if *jsonOutput {
		return writeJSONOutput(output, exitOK)
	}
	fmt.Println("pack written to", *outDir)
	return exitOK
}

func writeSessionStatus(dir string, jsonOutput bool) int {
	session, header, err := ledger.LoadSession(journalPath(dir))
	if err != nil {
		return sessionFailure(jsonOutput, err, exitCodeForError(err))
	}
	output := sessionOutput{
		OK:       true,
		CaseID:   header.CaseID,
		ReaderID: header.ReaderID,
		Phase:    string(session.Phase()),
		Entries:  len(session.Entries()),
	}
	if jsonOutput {
		return writeJSONOutput(output, exitOK)
	}
	fmt.Printf("case %s reader %s phase %s entries %d\n", output.CaseID, output.ReaderID, output.Phase, output.Entries)
	return exitOK
}

func sessionFailure(jsonOutput bool, err error, exitCode int) int {
	if jsonOutput {
		output := errorOutput(err)
		return writeJSONOutput(output, exitCode)
	}
	fmt.Fprintln(os.Stderr, "readerseal:", err)
	return exitCode
}

func journalPath(dir string) string {
	return filepath.Join(dir, journalFileName)
}

func eventsPath(dir string) string {
	return filepath.Join(dir, schemapack.FileEvents)
}

func parseRegions(value string) []schemaledger.Region {
	var regions []schemaledger.Region
	for _, id := range strings.Split(value, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		regions = append(regions, schemaledger.Region{RegionID: id})
	}
	return regions
}

// parseAcks parses "r1=800,r2=650" into region acknowledgements. A dwell of
// zero is allowed here; the summary will simply report the region unviewed.
func parseAcks(value string) ([]schemaledger.RegionAck, error) {
	var acks []schemaledger.RegionAck
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, dwell, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("acknowledgement %q must be region_id=dwell_ms", pair)
		}
		dwellMs, err := strconv.ParseInt(strings.TrimSpace(dwell), 10, 64)
		if err != nil || dwellMs < 0 {
			return nil, fmt.Errorf("acknowledgement %q has an invalid dwell", pair)
		}
		acks = append(acks, schemaledger.RegionAck{
			RegionID: strings.TrimSpace(id),
			DwellMs:  dwellMs,
			Viewed:   dwellMs > 0,
		})
	}
	return acks, nil
}

func printSessionUsage() {
	fmt.Println(`Usage: readerseal session <subcommand> [flags]

Subcommands:
  init        --case <id> --reader <id> [--dir <path>]
  lock-first  --assessment <value> --confidence <0-100> [--time-on-task-ms N] [--image-load-ms N]
  expose-ai   --ai-assessment <value> --ai-flag --ai-score <0..1> --regions r1,r2 --acks r1=800,r2=650
  reconcile   --assessment <value> --confidence <0-100> [--rationale-code C --rationale-text T]
  status      [--dir <path>] [--json]
  export      --out <pack-dir> [--with-metrics=false] [--json]`)
}
