// Package ledger owns the phase-gated session ledger. One clinical reading
// session is one Session value with a single writer; every recorded phase is
// appended as a hash-chained entry and the first impression is sealed before
// any AI content entry is constructed.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/davidahmann/readerseal/core/errors"
	"github.com/davidahmann/readerseal/core/hashchain"
	schemaledger "github.com/davidahmann/readerseal/core/schema/v1/ledger"
)

type Phase string

const (
	PhaseUninitialized   Phase = "uninitialized"
	PhaseFirstImpression Phase = "first_impression"
	PhaseAIExposure      Phase = "ai_exposure"
	PhaseReconciliation  Phase = "reconciliation"
	PhaseComplete        Phase = "complete"
)

// Assessment ordinals. changeDirection and the actionable threshold are
// derived from this scale, never supplied by callers.
var assessmentRank = map[string]int{
	"normal":        0,
	"benign":        1,
	"indeterminate": 2,
	"suspicious":    3,
	"malignant":     4,
}

// ActionableAssessment is the threshold an assessment must reach to count as
// agreeing with a positive AI flag.
const ActionableAssessment = "suspicious"

const (
	ChangeDirectionUpgrade   = "upgrade"
	ChangeDirectionDowngrade = "downgrade"
	ChangeDirectionUnchanged = "unchanged"
)

type Session struct {
	phase    Phase
	caseID   string
	readerID string
	entries  []schemaledger.Entry
}

type FirstImpressionInput struct {
	Assessment   string
	Confidence   int
	TimeOnTaskMs int64
	ImageLoadMs  int64
	Timestamp    time.Time
}

type AIExposureInput struct {
	AIAssessment     string
	AIScore          float64
	AIFlag           bool
	Regions          []schemaledger.Region
	DisclosureFormat string
	Acknowledgements []schemaledger.RegionAck
	Timestamp        time.Time
}

type ReconciliationInput struct {
	Assessment string
	Confidence int
	Rationale  *schemaledger.DeviationRationale
	Timestamp  time.Time
}

func NewSession() *Session {
	return &Session{phase: PhaseUninitialized}
}

// Initialize resets all state and opens the ledger for a new case.
func (session *Session) Initialize(caseID, readerID string) error {
	trimmedCase := strings.TrimSpace(caseID)
	trimmedReader := strings.TrimSpace(readerID)
	if trimmedCase == "" {
		return invalidInput("case_id is required")
	}
	if trimmedReader == "" {
		return invalidInput("reader_id is required")
	}
	session.caseID = trimmedCase
	session.readerID = trimmedReader
	session.entries = nil
	session.phase = PhaseFirstImpression
	return nil
}

// Reset discards working state for starting a new case. It never touches
// entries already exported; it only clears this session object.
func (session *Session) Reset() {
	session.caseID = ""
	session.readerID = ""
	session.entries = nil
	session.phase = PhaseUninitialized
}

func (session *Session) Phase() Phase {
	return session.phase
}

func (session *Session) CaseID() string {
	return session.caseID
}

func (session *Session) ReaderID() string {
	return session.readerID
}

// Entries returns a copy; the recorded chain is write-once.
func (session *Session) Entries() []schemaledger.Entry {
	return append([]schemaledger.Entry{}, session.entries...)
}

// LockFirstImpression seals the reader's pre-AI judgment. The content hash is
// computed here, before any AI exposure entry can exist, which is the property
// the whole ledger is built around.
func (session *Session) LockFirstImpression(input FirstImpressionInput) (schemaledger.Entry, error) {
	if session.phase != PhaseFirstImpression {
		return schemaledger.Entry{}, phaseError("lock_first_impression", PhaseFirstImpression, session.phase)
	}
	if err := validateAssessment(input.Assessment); err != nil {
		return schemaledger.Entry{}, err
	}
	if err := validateConfidence(input.Confidence); err != nil {
		return schemaledger.Entry{}, err
	}
	if input.TimeOnTaskMs < 0 || input.ImageLoadMs < 0 {
		return schemaledger.Entry{}, invalidInput("timing fields must be >= 0")
	}
	payload := &schemaledger.FirstImpression{
		Assessment:   normalizeAssessment(input.Assessment),
		Confidence:   input.Confidence,
		TimeOnTaskMs: input.TimeOnTaskMs,
		ImageLoadMs:  input.ImageLoadMs,
		AIVisible:    false,
		Locked:       true,
	}
	entry, err := session.appendEntry(schemaledger.EntryTypeFirstImpression, input.Timestamp, payload, func(target *schemaledger.Entry) {
		target.FirstImpression = payload
	})
	if err != nil {
		return schemaledger.Entry{}, err
	}
	session.phase = PhaseAIExposure
	return entry, nil
}

// RecordAIExposure records what the AI showed and how each highlighted region
// was acknowledged.
func (session *Session) RecordAIExposure(input AIExposureInput) (schemaledger.Entry, error) {
	if session.phase != PhaseAIExposure {
		return schemaledger.Entry{}, phaseError("record_ai_exposure", PhaseAIExposure, session.phase)
	}
	if err := validateAssessment(input.AIAssessment); err != nil {
		return schemaledger.Entry{}, err
	}
	if strings.TrimSpace(input.DisclosureFormat) == "" {
		return schemaledger.Entry{}, invalidInput("disclosure_format is required")
	}
	regions := append([]schemaledger.Region{}, input.Regions...)
	for index, region := range regions {
		if strings.TrimSpace(region.RegionID) == "" {
			return schemaledger.Entry{}, invalidInput(fmt.Sprintf("regions[%d].region_id is required", index))
		}
	}
	payload := &schemaledger.AIExposure{
		AIAssessment:     normalizeAssessment(input.AIAssessment),
		AIScore:          input.AIScore,
		AIFlag:           input.AIFlag,
		Regions:          regions,
		DisclosureFormat: strings.TrimSpace(input.DisclosureFormat),
		Acknowledgements: append([]schemaledger.RegionAck{}, input.Acknowledgements...),
	}
	entry, err := session.appendEntry(schemaledger.EntryTypeAIExposure, input.Timestamp, payload, func(target *schemaledger.Entry) {
		target.AIExposure = payload
	})
	if err != nil {
		return schemaledger.Entry{}, err
	}
	session.phase = PhaseReconciliation
	return entry, nil
}

// RecordReconciliation records the final judgment. changed_from_first,
// change_direction, and agrees_with_ai are derived here from the sealed
// entries; a deviation rationale is required exactly when the final assessment
// disagrees with the AI flag.
func (session *Session) RecordReconciliation(input ReconciliationInput) (schemaledger.Entry, error) {
	if session.phase != PhaseReconciliation {
		return schemaledger.Entry{}, phaseError("record_reconciliation", PhaseReconciliation, session.phase)
	}
	if err := validateAssessment(input.Assessment); err != nil {
		return schemaledger.Entry{}, err
	}
	if err := validateConfidence(input.Confidence); err != nil {
		return schemaledger.Entry{}, err
	}

	if len(session.entries) < 2 || session.entries[0].FirstImpression == nil || session.entries[1].AIExposure == nil {
		return schemaledger.Entry{}, coreerrors.New(coreerrors.CategoryInvalidPhaseTransition, "entries_inconsistent", "reconciliation requires sealed first_impression and ai_exposure entries")
	}
	first := session.entries[0].FirstImpression
	exposure := session.entries[1].AIExposure
	finalAssessment := normalizeAssessment(input.Assessment)
	changed := finalAssessment != first.Assessment
	direction := ChangeDirectionBetween(first.Assessment, finalAssessment)
	agrees := AssessmentActionable(finalAssessment) == exposure.AIFlag

	var rationale *schemaledger.DeviationRationale
	if agrees {
		if input.Rationale != nil {
			return schemaledger.Entry{}, invalidInput("deviation_rationale must be absent when agreeing with the AI flag")
		}
	} else {
		if input.Rationale == nil || strings.TrimSpace(input.Rationale.Text) == "" || strings.TrimSpace(input.Rationale.Code) == "" {
			return schemaledger.Entry{}, invalidInput("deviation_rationale with code and text is required when disagreeing with the AI flag")
		}
		rationale = &schemaledger.DeviationRationale{
			Code: strings.TrimSpace(input.Rationale.Code),
			Text: strings.TrimSpace(input.Rationale.Text),
		}
	}

	payload := &schemaledger.Reconciliation{
		Assessment:         finalAssessment,
		Confidence:         input.Confidence,
		ChangedFromFirst:   changed,
		ChangeDirection:    direction,
		AgreesWithAI:       agrees,
		DeviationRationale: rationale,
	}
	entry, err := session.appendEntry(schemaledger.EntryTypeReconciliation, input.Timestamp, payload, func(target *schemaledger.Entry) {
		target.Reconciliation = payload
	})
	if err != nil {
		return schemaledger.Entry{}, err
	}
	session.phase = PhaseComplete
	return entry, nil
}

// appendEntry builds the fully hashed entry before mutating any session state,
// so a failure leaves the ledger untouched.
func (session *Session) appendEntry(entryType string, timestamp time.Time, payload any, attach func(*schemaledger.Entry)) (schemaledger.Entry, error) {
	contentHash, err := hashchain.ComputeContentHash(payload)
	if err != nil {
		return schemaledger.Entry{}, coreerrors.Wrap(fmt.Errorf("compute content hash: %w", err), coreerrors.CategoryInternalFailure, "content_hash_failed", "payload must be JSON-serializable")
	}
	when := timestamp.UTC()
	if when.IsZero() {
		when = time.Now().UTC()
	}
	previousHash := hashchain.GenesisHash
	if len(session.entries) > 0 {
		previousHash = session.entries[len(session.entries)-1].ChainHash
	}
	entry := schemaledger.Entry{
		Seq:          int64(len(session.entries) + 1),
		EntryID:      uuid.NewString(),
		EntryType:    entryType,
		Timestamp:    when.Format(time.RFC3339Nano),
		PreviousHash: previousHash,
		ContentHash:  contentHash,
	}
	chainHash, err := hashchain.ComputeChainHash(entry.Seq, entry.PreviousHash, entry.EntryID, entry.EntryType, entry.Timestamp, entry.ContentHash)
	if err != nil {
		return schemaledger.Entry{}, coreerrors.Wrap(fmt.Errorf("compute chain hash: %w", err), coreerrors.CategoryInternalFailure, "chain_hash_failed", "")
	}
	entry.ChainHash = chainHash
	attach(&entry)
	session.entries = append(session.entries, entry)
	return entry, nil
}

// ChangeDirectionBetween compares two assessments on the ordinal scale.
// The replay engine uses the same derivation so the ledger and the
// independent oracle cannot drift apart.
func ChangeDirectionBetween(first, final string) string {
	firstRank := assessmentRank[normalizeAssessment(first)]
	finalRank := assessmentRank[normalizeAssessment(final)]
	switch {
	case finalRank > firstRank:
		return ChangeDirectionUpgrade
	case finalRank < firstRank:
		return ChangeDirectionDowngrade
	default:
		return ChangeDirectionUnchanged
	}
}

// AssessmentActionable reports whether an assessment reaches the actionable
// threshold.
func AssessmentActionable(assessment string) bool {
	return assessmentRank[normalizeAssessment(assessment)] >= assessmentRank[ActionableAssessment]
}

func normalizeAssessment(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func validateAssessment(value string) error {
	if _, known := assessmentRank[normalizeAssessment(value)]; !known {
		return invalidInput(fmt.Sprintf("unknown assessment %q", value))
	}
	return nil
}

func validateConfidence(value int) error {
	if value < 0 || value > 100 {
		return invalidInput(fmt.Sprintf("confidence must be between 0 and 100, got %d", value))
	}
	return nil
}

func invalidInput(message string) error {
	return coreerrors.Wrap(fmt.Errorf("%s", message), coreerrors.CategoryInvalidInput, "invalid_input", "check the recorded field values")
}

func phaseError(operation string, required, actual Phase) error {
	cause := fmt.Errorf("%s is only valid in phase %s, session is in phase %s", operation, required, actual)
	return coreerrors.Wrap(cause, coreerrors.CategoryInvalidPhaseTransition, "invalid_phase_transition", "record phases strictly in order: first impression, AI exposure, reconciliation")
}
