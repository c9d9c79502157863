package replay

import (
	"fmt"
	"sort"
	"time"

	"github.com/davidahmann/readerseal/core/ledger"
	schemapack "github.com/davidahmann/readerseal/core/schema/v1/pack"
)

// DefaultMinPlausibleMs is the floor below which a derived duration is marked
// suspicious. Sub-50ms reads are not humanly plausible; the value is kept, the
// flag travels with it.
const DefaultMinPlausibleMs int64 = 50

type Options struct {
	MinPlausibleMs int64
}

func (options Options) minPlausible() int64 {
	if options.MinPlausibleMs > 0 {
		return options.MinPlausibleMs
	}
	return DefaultMinPlausibleMs
}

// CaseMetrics is one replayed row. Pointer fields are null when the log never
// produced the underlying milestone.
type CaseMetrics struct {
	CaseID              string
	ReaderID            string
	PreAIReadMs         *int64
	AIReviewMs          *int64
	TotalCaseMs         *int64
	InitialAssessment   string
	FinalAssessment     string
	ChangedFromFirst    *bool
	ChangeDirection     string
	AgreesWithAI        *bool
	DeviationDocumented *bool
	RegionVisitsApprox  int
	SuspiciousTimings   []string
}

type Result struct {
	Cases    []CaseMetrics
	Warnings []string
}

type openEpisode struct {
	episodeType string
	startedAt   time.Time
}

type caseState struct {
	metrics      CaseMetrics
	openEpisodes []openEpisode
	durations    map[string]int64
	aiFlag       *bool
	rationale    string
	lastRegion   string
}

// Replay groups events into per-case episodes with an active-case cursor and
// derives every metric from the payloads alone. It is deterministic: replaying
// the same log twice yields identical output.
func Replay(events []schemapack.Event, options Options) (Result, error) {
	result := Result{}
	floor := options.minPlausible()

	var open *caseState
	var caseOrder []string
	states := map[string]*caseState{}

	closeCase := func(state *caseState) {
		for _, episode := range state.openEpisodes {
			result.Warnings = append(result.Warnings, fmt.Sprintf("case %s: episode %s started but never ended", state.metrics.CaseID, episode.episodeType))
		}
		state.openEpisodes = nil
		finalizeCase(state)
	}

	for index, event := range events {
		timestamp, err := parseEventTime(event.Timestamp)
		if err != nil {
			return Result{}, parseFailure(fmt.Errorf("event %d: %w", index+1, err))
		}
		switch event.Type {
		case schemapack.EventCaseLoaded:
			if open != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("case %s: closed implicitly by a new CASE_LOADED", open.metrics.CaseID))
				closeCase(open)
			}
			caseID := payloadString(event, "case_id")
			if caseID == "" {
				return Result{}, parseFailure(fmt.Errorf("event %d: CASE_LOADED missing case_id", index+1))
			}
			state, exists := states[caseID]
			if !exists {
				state = &caseState{durations: map[string]int64{}}
				state.metrics.CaseID = caseID
				state.metrics.ReaderID = payloadString(event, "reader_id")
				states[caseID] = state
				caseOrder = append(caseOrder, caseID)
			}
			open = state
		case schemapack.EventCaseCompleted:
			if open == nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("event %d: CASE_COMPLETED with no open case", index+1))
				continue
			}
			closeCase(open)
			open = nil
		default:
			if open == nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("event %d (%s): outside any case, ignored", index+1, event.Type))
				continue
			}
			if err := applyCaseEvent(open, event, timestamp, floor, &result.Warnings); err != nil {
				return Result{}, err
			}
		}
	}
	if open != nil {
		// Session end closes the cursor; an unterminated case still reports.
		closeCase(open)
	}

	for _, caseID := range caseOrder {
		result.Cases = append(result.Cases, states[caseID].metrics)
	}
	return result, nil
}

func applyCaseEvent(state *caseState, event schemapack.Event, timestamp time.Time, floor int64, warnings *[]string) error {
	switch event.Type {
	case schemapack.EventEpisodeStart:
		episodeType := payloadString(event, "episode_type")
		if episodeType == "" {
			return parseFailure(fmt.Errorf("case %s: EPISODE_START missing episode_type", state.metrics.CaseID))
		}
		state.openEpisodes = append(state.openEpisodes, openEpisode{episodeType: episodeType, startedAt: timestamp})
	case schemapack.EventEpisodeEnd:
		episodeType := payloadString(event, "episode_type")
		if episodeType == "" {
			return parseFailure(fmt.Errorf("case %s: EPISODE_END missing episode_type", state.metrics.CaseID))
		}
		matched := matchEpisode(state, episodeType, timestamp)
		if matched == nil {
			*warnings = append(*warnings, fmt.Sprintf("case %s: EPISODE_END %s without a matching start", state.metrics.CaseID, episodeType))
			return nil
		}
		durationMs := timestamp.Sub(matched.startedAt).Milliseconds()
		state.durations[episodeType] += durationMs
		if durationMs < floor {
			state.metrics.SuspiciousTimings = appendUnique(state.metrics.SuspiciousTimings, episodeType)
		}
	case schemapack.EventFirstImpressionLocked:
		state.metrics.InitialAssessment = payloadString(event, "assessment")
	case schemapack.EventAIOutputShown:
		if flag, ok := payloadBool(event, "ai_flag"); ok {
			flagCopy := flag
			state.aiFlag = &flagCopy
		}
	case schemapack.EventRegionViewed:
		region := payloadString(event, "region_id")
		if region != "" && region != state.lastRegion {
			state.metrics.RegionVisitsApprox++
			state.lastRegion = region
		}
	case schemapack.EventReconciliationSubmitted:
		state.metrics.FinalAssessment = payloadString(event, "assessment")
		state.rationale = payloadString(event, "deviation_rationale")
	default:
		*warnings = append(*warnings, fmt.Sprintf("case %s: unrecognized event type %s skipped", state.metrics.CaseID, event.Type))
	}
	return nil
}

// matchEpisode takes the earliest unmatched start of the same episode type
// whose start is at or before the end; the tie-break is explicit, never
// "last wins".
func matchEpisode(state *caseState, episodeType string, endedAt time.Time) *openEpisode {
	bestIndex := -1
	for index, episode := range state.openEpisodes {
		if episode.episodeType != episodeType {
			continue
		}
		if episode.startedAt.After(endedAt) {
			continue
		}
		if bestIndex == -1 || episode.startedAt.Before(state.openEpisodes[bestIndex].startedAt) {
			bestIndex = index
		}
	}
	if bestIndex == -1 {
		return nil
	}
	matched := state.openEpisodes[bestIndex]
	state.openEpisodes = append(state.openEpisodes[:bestIndex], state.openEpisodes[bestIndex+1:]...)
	return &matched
}

func finalizeCase(state *caseState) {
	metrics := &state.metrics
	if value, ok := state.durations[schemapack.EpisodePreAIRead]; ok {
		metrics.PreAIReadMs = &value
	}
	if value, ok := state.durations[schemapack.EpisodeAIReview]; ok {
		metrics.AIReviewMs = &value
	}
	if value, ok := state.durations[schemapack.EpisodeCaseTotal]; ok {
		metrics.TotalCaseMs = &value
	}
	if metrics.InitialAssessment != "" && metrics.FinalAssessment != "" {
		changed := metrics.InitialAssessment != metrics.FinalAssessment
		metrics.ChangedFromFirst = &changed
		metrics.ChangeDirection = ledger.ChangeDirectionBetween(metrics.InitialAssessment, metrics.FinalAssessment)
	}
	if metrics.FinalAssessment != "" && state.aiFlag != nil {
		agrees := ledger.AssessmentActionable(metrics.FinalAssessment) == *state.aiFlag
		metrics.AgreesWithAI = &agrees
		documented := agrees || state.rationale != ""
		metrics.DeviationDocumented = &documented
	}
	sort.Strings(metrics.SuspiciousTimings)
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}
