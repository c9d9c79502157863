// Package metricsdiff compares a published derived-metrics table against the
// values re-derived by replay. The replayed side is the reference; the
// published file is the claim under test.
package metricsdiff

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/davidahmann/readerseal/core/replay"
)

const (
	// DefaultTimingToleranceMs absorbs rounding differences in duration
	// columns between producers that truncate and producers that round.
	DefaultTimingToleranceMs int64 = 5
	// DefaultEpsilon is the comparison slack for non-duration numeric cells.
	DefaultEpsilon float64 = 1e-9
	// AbsentCell marks a case that exists on only one side of the diff.
	AbsentCell = "(absent)"
)

type Options struct {
	TimingToleranceMs int64
	Epsilon           float64
}

func (options Options) timingTolerance() float64 {
	if options.TimingToleranceMs > 0 {
		return float64(options.TimingToleranceMs)
	}
	return float64(DefaultTimingToleranceMs)
}

func (options Options) epsilon() float64 {
	if options.Epsilon > 0 {
		return options.Epsilon
	}
	return DefaultEpsilon
}

// Mismatch is one cell-level disagreement. Expected carries the replayed
// value, Actual the published one.
type Mismatch struct {
	CaseID   string `json:"case_id"`
	Column   string `json:"column"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

type Report struct {
	RowsCompared int        `json:"rows_compared"`
	Mismatches   []Mismatch `json:"mismatches"`
}

func (report Report) Pass() bool {
	return len(report.Mismatches) == 0
}

// Diff compares every replayed case against the published rows and returns
// the complete mismatch list. It never stops at the first disagreement.
func Diff(replayed []replay.CaseMetrics, published []map[string]string, options Options) Report {
	report := Report{}

	publishedByCase := make(map[string]map[string]string, len(published))
	for _, row := range published {
		publishedByCase[row["caseId"]] = row
	}

	expectedRows := replay.BuildTable(replayed)
	header := expectedRows[0]
	seen := make(map[string]bool, len(replayed))

	for rowIndex, metrics := range replayed {
		seen[metrics.CaseID] = true
		expected := expectedRows[rowIndex+1]
		actual, exists := publishedByCase[metrics.CaseID]
		if !exists {
			report.Mismatches = append(report.Mismatches, Mismatch{
				CaseID:   metrics.CaseID,
				Column:   "caseId",
				Expected: metrics.CaseID,
				Actual:   AbsentCell,
			})
			continue
		}
		report.RowsCompared++
		for position, column := range header {
			if column == "caseId" {
				continue
			}
			actualCell, present := actual[column]
			if !present {
				report.Mismatches = append(report.Mismatches, Mismatch{
					CaseID:   metrics.CaseID,
					Column:   column,
					Expected: expected[position],
					Actual:   AbsentCell,
				})
				continue
			}
			if !cellsEqual(column, expected[position], actualCell, options) {
				report.Mismatches = append(report.Mismatches, Mismatch{
					CaseID:   metrics.CaseID,
					Column:   column,
					Expected: expected[position],
					Actual:   actualCell,
				})
			}
		}
	}

	for _, row := range published {
		caseID := row["caseId"]
		if seen[caseID] {
			continue
		}
		report.Mismatches = append(report.Mismatches, Mismatch{
			CaseID:   caseID,
			Column:   "caseId",
			Expected: AbsentCell,
			Actual:   caseID,
		})
	}

	sort.Slice(report.Mismatches, func(i, j int) bool {
		if report.Mismatches[i].CaseID != report.Mismatches[j].CaseID {
			return report.Mismatches[i].CaseID < report.Mismatches[j].CaseID
		}
		return report.Mismatches[i].Column < report.Mismatches[j].Column
	})
	return report
}

func cellsEqual(column, expected, actual string, options Options) bool {
	expected = strings.TrimSpace(expected)
	actual = strings.TrimSpace(actual)
	expectedNull := isNullCell(expected)
	actualNull := isNullCell(actual)
	if expectedNull || actualNull {
		// Missing, blank, and NA spellings all mean the same absent value,
		// so two nulls agree regardless of how each side wrote them.
		return expectedNull && actualNull
	}
	if expected == actual {
		return true
	}
	expectedNumber, expectedOk := parseNumber(expected)
	actualNumber, actualOk := parseNumber(actual)
	if !expectedOk || !actualOk {
		return false
	}
	if strings.HasSuffix(column, "Ms") {
		return math.Abs(expectedNumber-actualNumber) <= options.timingTolerance()
	}
	return math.Abs(expectedNumber-actualNumber) <= options.epsilon()
}

// isNullCell reports whether a trimmed cell means "no value". Producers write
// nulls as an empty cell, NA in any letter case, or n/a; all spellings
// normalize to the same null before comparison.
func isNullCell(value string) bool {
	if value == "" {
		return true
	}
	return strings.EqualFold(value, replay.NullCell) || strings.EqualFold(value, "n/a")
}

func parseNumber(value string) (float64, bool) {
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}
