package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	coreerrors "github.com/davidahmann/readerseal/core/errors"
	"github.com/davidahmann/readerseal/core/fsx"
	"github.com/davidahmann/readerseal/core/hashchain"
	schemaledger "github.com/davidahmann/readerseal/core/schema/v1/ledger"
)

// Export produces a self-describing snapshot of the session. Summary metrics
// are computed strictly from the recorded entries so a spoofed summary cannot
// be injected from outside.
func (session *Session) Export(producerVersion string, now time.Time) schemaledger.Snapshot {
	createdAt := now.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if producerVersion == "" {
		producerVersion = "0.0.0-dev"
	}
	return schemaledger.Snapshot{
		SchemaID:        schemaledger.SnapshotSchemaID,
		SchemaVersion:   schemaledger.SnapshotSchemaVersion,
		CreatedAt:       createdAt,
		ProducerVersion: producerVersion,
		CaseID:          session.caseID,
		ReaderID:        session.readerID,
		ChainFormat:     hashchain.FormatFixedV1,
		Phase:           string(session.phase),
		Entries:         session.Entries(),
		Summary:         summarize(session.entries),
	}
}

// Import restores a session from a snapshot so a verifier can re-run
// ValidateChain against it. The restored session is positioned at the
// snapshot's phase; tampering surfaces through validation, not import.
func Import(snapshot schemaledger.Snapshot) (*Session, error) {
	if snapshot.SchemaID != schemaledger.SnapshotSchemaID {
		return nil, importError(fmt.Errorf("unsupported snapshot schema_id %q", snapshot.SchemaID))
	}
	if snapshot.ChainFormat != hashchain.FormatFixedV1 {
		return nil, importError(fmt.Errorf("unsupported chain_format %q (expected %s)", snapshot.ChainFormat, hashchain.FormatFixedV1))
	}
	phase := Phase(snapshot.Phase)
	switch phase {
	case PhaseFirstImpression, PhaseAIExposure, PhaseReconciliation, PhaseComplete:
	default:
		return nil, importError(fmt.Errorf("unknown phase %q", snapshot.Phase))
	}
	if len(snapshot.Entries) > len(entryTypeOrder) {
		return nil, importError(fmt.Errorf("snapshot carries %d entries, at most %d allowed", len(snapshot.Entries), len(entryTypeOrder)))
	}
	if derived := phaseForEntryCount(len(snapshot.Entries)); phase != derived {
		return nil, importError(fmt.Errorf("phase %q disagrees with %d recorded entries (expected %q)", snapshot.Phase, len(snapshot.Entries), derived))
	}
	for position, entry := range snapshot.Entries {
		if err := validateEntryShape(position, entry); err != nil {
			return nil, importError(err)
		}
	}
	return &Session{
		phase:    phase,
		caseID:   snapshot.CaseID,
		readerID: snapshot.ReaderID,
		entries:  append([]schemaledger.Entry{}, snapshot.Entries...),
	}, nil
}

// WriteLedger writes the pack-format ledger.json: a bare array of chained
// entries.
func WriteLedger(path string, entries []schemaledger.Entry) error {
	encoded, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	encoded = append(encoded, '\n')
	return fsx.WriteFileAtomic(path, encoded, 0o600)
}

func ReadLedger(path string) ([]schemaledger.Entry, error) {
	// #nosec G304 -- ledger path is an explicit local path.
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coreerrors.Wrap(fmt.Errorf("ledger file missing: %s", path), coreerrors.CategoryMissingFile, "missing_file", "export the session before verifying")
		}
		return nil, coreerrors.Wrap(fmt.Errorf("read ledger: %w", err), coreerrors.CategoryIOFailure, "read_failed", "")
	}
	var entries []schemaledger.Entry
	if err := json.Unmarshal(content, &entries); err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("parse ledger: %w", err), coreerrors.CategoryParseError, "parse_failed", "ledger.json must be an array of chained entries")
	}
	return entries, nil
}

func summarize(entries []schemaledger.Entry) schemaledger.Summary {
	summary := schemaledger.Summary{}
	var first *schemaledger.FirstImpression
	var exposure *schemaledger.AIExposure
	var reconciliation *schemaledger.Reconciliation
	for _, entry := range entries {
		switch {
		case entry.EntryType == schemaledger.EntryTypeFirstImpression && entry.FirstImpression != nil:
			if first == nil {
				first = entry.FirstImpression
				summary.FirstImpressionSealed = first.Locked && !first.AIVisible && entry.ContentHash != "" && exposure == nil
			}
		case entry.EntryType == schemaledger.EntryTypeAIExposure && entry.AIExposure != nil:
			if exposure == nil {
				exposure = entry.AIExposure
			}
		case entry.EntryType == schemaledger.EntryTypeReconciliation && entry.Reconciliation != nil:
			if reconciliation == nil {
				reconciliation = entry.Reconciliation
			}
		}
	}
	if exposure != nil {
		summary.AllRegionsAcknowledged = allRegionsAcknowledged(exposure)
	}
	if reconciliation != nil {
		summary.AssessmentChanged = reconciliation.ChangedFromFirst
		summary.ChangeDirection = reconciliation.ChangeDirection
		summary.AgreesWithAI = reconciliation.AgreesWithAI
		summary.DeviationDocumented = reconciliation.AgreesWithAI || (reconciliation.DeviationRationale != nil && reconciliation.DeviationRationale.Text != "")
	}
	return summary
}

func allRegionsAcknowledged(exposure *schemaledger.AIExposure) bool {
	if len(exposure.Regions) == 0 {
		return true
	}
	acknowledged := map[string]bool{}
	for _, ack := range exposure.Acknowledgements {
		if ack.Viewed && ack.DwellMs > 0 {
			acknowledged[ack.RegionID] = true
		}
	}
	for _, region := range exposure.Regions {
		if !acknowledged[region.RegionID] {
			return false
		}
	}
	return true
}

// entryTypeOrder is the only legal entry sequence; position in the chain
// fixes both the entry type and which payload field must be set.
var entryTypeOrder = []string{
	schemaledger.EntryTypeFirstImpression,
	schemaledger.EntryTypeAIExposure,
	schemaledger.EntryTypeReconciliation,
}

func validateEntryShape(position int, entry schemaledger.Entry) error {
	wantType := entryTypeOrder[position]
	if entry.EntryType != wantType {
		return fmt.Errorf("entry %d has type %q, expected %q", position, entry.EntryType, wantType)
	}
	var payloadSet bool
	switch wantType {
	case schemaledger.EntryTypeFirstImpression:
		payloadSet = entry.FirstImpression != nil
	case schemaledger.EntryTypeAIExposure:
		payloadSet = entry.AIExposure != nil
	case schemaledger.EntryTypeReconciliation:
		payloadSet = entry.Reconciliation != nil
	}
	if !payloadSet {
		return fmt.Errorf("entry %d (%s) is missing its payload", position, wantType)
	}
	return nil
}

func importError(cause error) error {
	return coreerrors.Wrap(cause, coreerrors.CategoryParseError, "snapshot_invalid", "re-export the snapshot with a current producer")
}
