package ledger

import "time"

const (
	SnapshotSchemaID      = "readerseal.ledger.snapshot"
	SnapshotSchemaVersion = "1.0.0"

	EntryTypeFirstImpression = "first_impression"
	EntryTypeAIExposure      = "ai_exposure"
	EntryTypeReconciliation  = "reconciliation"
)

// Entry is one chained ledger record. Exactly one of the variant pointers is
// populated, matching EntryType; illegal combinations are rejected on load.
type Entry struct {
	Seq          int64  `json:"seq"`
	EntryID      string `json:"entry_id"`
	EntryType    string `json:"entry_type"`
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	ContentHash  string `json:"content_hash"`
	ChainHash    string `json:"chain_hash"`

	FirstImpression *FirstImpression `json:"first_impression,omitempty"`
	AIExposure      *AIExposure      `json:"ai_exposure,omitempty"`
	Reconciliation  *Reconciliation  `json:"reconciliation,omitempty"`
}

// FirstImpression is the reader's sealed pre-AI judgment. AIVisible is an
// invariant false and Locked an invariant true; both are hashed so a later
// edit is detectable.
type FirstImpression struct {
	Assessment   string `json:"assessment"`
	Confidence   int    `json:"confidence"`
	TimeOnTaskMs int64  `json:"time_on_task_ms"`
	ImageLoadMs  int64  `json:"image_load_ms"`
	AIVisible    bool   `json:"ai_visible"`
	Locked       bool   `json:"locked"`
}

type AIExposure struct {
	AIAssessment     string      `json:"ai_assessment"`
	AIScore          float64     `json:"ai_score"`
	AIFlag           bool        `json:"ai_flag"`
	Regions          []Region    `json:"regions"`
	DisclosureFormat string      `json:"disclosure_format"`
	Acknowledgements []RegionAck `json:"acknowledgements"`
}

type Region struct {
	RegionID string `json:"region_id"`
	Label    string `json:"label,omitempty"`
}

type RegionAck struct {
	RegionID string `json:"region_id"`
	DwellMs  int64  `json:"dwell_ms"`
	Viewed   bool   `json:"viewed"`
}

type Reconciliation struct {
	Assessment         string               `json:"assessment"`
	Confidence         int                  `json:"confidence"`
	ChangedFromFirst   bool                 `json:"changed_from_first"`
	ChangeDirection    string               `json:"change_direction"`
	AgreesWithAI       bool                 `json:"agrees_with_ai"`
	DeviationRationale *DeviationRationale `json:"deviation_rationale,omitempty"`
}

type DeviationRationale struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

// Snapshot is the self-describing export of a completed (or in-flight) ledger.
type Snapshot struct {
	SchemaID        string    `json:"schema_id"`
	SchemaVersion   string    `json:"schema_version"`
	CreatedAt       time.Time `json:"created_at"`
	ProducerVersion string    `json:"producer_version"`
	CaseID          string    `json:"case_id"`
	ReaderID        string    `json:"reader_id"`
	ChainFormat     string    `json:"chain_format"`
	Phase           string    `json:"phase"`
	Entries         []Entry   `json:"entries"`
	Summary         Summary   `json:"summary"`
}

// Summary metrics are derived strictly from the snapshot's own entries.
type Summary struct {
	FirstImpressionSealed  bool   `json:"first_impression_sealed"`
	AllRegionsAcknowledged bool   `json:"all_regions_acknowledged"`
	AssessmentChanged      bool   `json:"assessment_changed"`
	ChangeDirection        string `json:"change_direction,omitempty"`
	AgreesWithAI           bool   `json:"agrees_with_ai"`
	DeviationDocumented    bool   `json:"deviation_documented"`
}
