package pack

import "time"

const (
	ManifestSchemaID      = "readerseal.pack.export_manifest"
	ManifestSchemaVersion = "1.0.0"

	FileManifest       = "export_manifest.json"
	FileLedger         = "ledger.json"
	FileEvents         = "events.jsonl"
	FileDerivedMetrics = "derived_metrics.csv"
	FileTrialManifest  = "trial_manifest.json"
	FileCodebook       = "codebook.md"
)

type Manifest struct {
	SchemaID        string          `json:"schema_id"`
	SchemaVersion   string          `json:"schema_version"`
	CreatedAt       time.Time       `json:"created_at"`
	ProducerVersion string          `json:"producer_version"`
	ChainFormat     string          `json:"chain_format"`
	Entries         []ManifestEntry `json:"entries"`
}

type ManifestEntry struct {
	Path   string `json:"path"`
	Bytes  int64  `json:"bytes"`
	SHA256 string `json:"sha256"`
}

// Event is one raw line of events.jsonl. Payload stays schemaless; each event
// type documents its own keys and replay reads them defensively.
type Event struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Raw event types populated by the producing side.
const (
	EventCaseLoaded              = "CASE_LOADED"
	EventCaseCompleted           = "CASE_COMPLETED"
	EventEpisodeStart            = "EPISODE_START"
	EventEpisodeEnd              = "EPISODE_END"
	EventFirstImpressionLocked   = "FIRST_IMPRESSION_LOCKED"
	EventAIOutputShown           = "AI_OUTPUT_SHOWN"
	EventRegionViewed            = "REGION_VIEWED"
	EventReconciliationSubmitted = "RECONCILIATION_SUBMITTED"
)

// Episode types used to pair EPISODE_START/EPISODE_END milestones.
const (
	EpisodePreAIRead = "pre_ai_read"
	EpisodeAIReview  = "ai_review"
	EpisodeCaseTotal = "case_total"
)
