package replay

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	rserrors "github.com/davidahmann/readerseal/core/errors"
	"github.com/davidahmann/readerseal/core/fsx"
)

// NullCell is the sentinel written for metrics the event log never produced.
const NullCell = "NA"

// MetricsColumns is the published column order for the derived metrics table.
var MetricsColumns = []string{
	"caseId",
	"readerId",
	"preAiReadMs",
	"aiReviewMs",
	"totalCaseMs",
	"initialAssessment",
	"finalAssessment",
	"changedFromFirst",
	"changeDirection",
	"agreesWithAI",
	"deviationDocumented",
	"regionVisitsApprox",
	"suspiciousTimings",
}

// BuildTable renders replayed case metrics as rows in MetricsColumns order,
// header included.
func BuildTable(cases []CaseMetrics) [][]string {
	rows := make([][]string, 0, len(cases)+1)
	rows = append(rows, append([]string(nil), MetricsColumns...))
	for _, metrics := range cases {
		rows = append(rows, []string{
			metrics.CaseID,
			metrics.ReaderID,
			formatNullableInt(metrics.PreAIReadMs),
			formatNullableInt(metrics.AIReviewMs),
			formatNullableInt(metrics.TotalCaseMs),
			formatNullableString(metrics.InitialAssessment),
			formatNullableString(metrics.FinalAssessment),
			formatNullableBool(metrics.ChangedFromFirst),
			formatNullableString(metrics.ChangeDirection),
			formatNullableBool(metrics.AgreesWithAI),
			formatNullableBool(metrics.DeviationDocumented),
			strconv.Itoa(metrics.RegionVisitsApprox),
			strings.Join(metrics.SuspiciousTimings, ";"),
		})
	}
	return rows
}

// WriteCSV writes the metrics table atomically.
func WriteCSV(path string, cases []CaseMetrics) error {
	var builder strings.Builder
	writer := csv.NewWriter(&builder)
	if err := writer.WriteAll(BuildTable(cases)); err != nil {
		return rserrors.Wrap(err, rserrors.CategoryIOFailure, "metrics_csv_encode", "retry the export")
	}
	return fsx.WriteFileAtomic(path, []byte(builder.String()), 0o644)
}

// ReadCSV parses a published metrics table back into rows keyed by header name.
// It tolerates extra columns but requires caseId.
func ReadCSV(reader io.Reader) ([]map[string]string, error) {
	records, err := csv.NewReader(reader).ReadAll()
	if err != nil {
		return nil, rserrors.Wrap(err, rserrors.CategoryParseError, "metrics_csv_parse", "the derived metrics file is not well-formed CSV")
	}
	if len(records) == 0 {
		return nil, rserrors.New(rserrors.CategoryParseError, "metrics_csv_empty", "the derived metrics file has no header row")
	}
	header := records[0]
	seen := map[string]bool{}
	for _, column := range header {
		seen[column] = true
	}
	if !seen["caseId"] {
		return nil, rserrors.New(rserrors.CategoryParseError, "metrics_csv_missing_case_id", "the derived metrics header must include caseId")
	}
	rows := make([]map[string]string, 0, len(records)-1)
	for index, record := range records[1:] {
		if len(record) != len(header) {
			return nil, rserrors.New(rserrors.CategoryParseError, "metrics_csv_ragged_row",
				fmt.Sprintf("row %d has %d cells, header has %d", index+2, len(record), len(header)))
		}
		row := make(map[string]string, len(header))
		for position, column := range header {
			row[column] = record[position]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func formatNullableInt(value *int64) string {
	if value == nil {
		return NullCell
	}
	return strconv.FormatInt(*value, 10)
}

func formatNullableBool(value *bool) string {
	if value == nil {
		return NullCell
	}
	return strconv.FormatBool(*value)
}

func formatNullableString(value string) string {
	if value == "" {
		return NullCell
	}
	return value
}
