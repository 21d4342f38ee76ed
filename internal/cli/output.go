// Package cli provides output formatting for the daisy CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Brandon-orbit/PSA-daisy/internal/models"
	"github.com/Brandon-orbit/PSA-daisy/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

// ParseFormat maps a --output flag value to a format.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRunResult writes the outcome of one pipeline run.
func WriteRunResult(w io.Writer, result *models.PipelineRunResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	fmt.Fprintf(w, "\nRun %s on dataset %s: %s\n", result.RunID, result.DatasetID, result.Status)
	if result.Message != "" {
		fmt.Fprintf(w, "%s\n", result.Message)
	}
	fmt.Fprintf(w, "Extracted records: %d | Indexed documents: %d\n\n", result.ExtractedRecords, result.IndexedDocuments)
	writeOutcomes(w, result.Outcomes())
	return nil
}

func writeOutcomes(w io.Writer, outcomes []models.QueryOutcome) {
	if len(outcomes) == 0 {
		return
	}
	fmt.Fprintf(w, "%-24s %-8s %6s  %s\n", "QUERY", "OUTCOME", "ROWS", "DETAIL")
	for _, o := range outcomes {
		detail := o.BlobName
		if o.Outcome == models.OutcomeSkipped {
			detail = o.Reason
		}
		fmt.Fprintf(w, "%-24s %-8s %6d  %s\n", utils.Truncate(o.Name, 21), o.Outcome, o.RowCount, utils.Truncate(detail, 80))
	}
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for i, hit := range response.Hits {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, hit.Score)
		fmt.Fprintf(w, "ID: %s\n", hit.ID)
		if hit.Title != "" {
			fmt.Fprintf(w, "Title: %s\n", hit.Title)
		}
		if hit.Metadata.Query != "" {
			fmt.Fprintf(w, "Query: %s | Rows: %d | Columns: %s\n",
				hit.Metadata.Query, hit.Metadata.RowCount, strings.Join(hit.Metadata.Columns, ", "))
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(hit.Content, 200))
	}
	return nil
}

// WriteRuns writes a page of run history.
func WriteRuns(w io.Writer, runs []*models.RunRecord, total int64, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"runs": runs, "total": total})
	}
	fmt.Fprintf(w, "%d run(s), showing %d\n\n", total, len(runs))
	if len(runs) == 0 {
		return nil
	}
	fmt.Fprintf(w, "%-36s %-20s %-10s %8s %8s  %s\n", "ID", "STARTED", "STATUS", "RECORDS", "DOCS", "DATASET")
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s %-20s %-10s %8d %8d  %s\n",
			r.ID, r.StartedAt.UTC().Format("2006-01-02 15:04:05"), r.Status,
			r.ExtractedRecords, r.IndexedDocuments, r.DatasetID)
	}
	return nil
}

// WriteRun writes one run record with its per-query outcomes.
func WriteRun(w io.Writer, run *models.RunRecord, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, run)
	}
	fmt.Fprintf(w, "Run %s on dataset %s: %s\n", run.ID, run.DatasetID, run.Status)
	if run.Message != "" {
		fmt.Fprintf(w, "%s\n", run.Message)
	}
	fmt.Fprintf(w, "Started: %s | Took: %s\n\n",
		run.StartedAt.UTC().Format("2006-01-02 15:04:05"), run.FinishedAt.Sub(run.StartedAt))
	writeOutcomes(w, run.Queries)
	return nil
}

// WriteDatasets writes the datasets of a workspace.
func WriteDatasets(w io.Writer, datasets []models.Dataset, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"datasets": datasets})
	}
	if len(datasets) == 0 {
		fmt.Fprintln(w, "No datasets found")
		return nil
	}
	fmt.Fprintf(w, "%-36s %-11s  %s\n", "ID", "REFRESHABLE", "NAME")
	for _, d := range datasets {
		fmt.Fprintf(w, "%-36s %-11t  %s\n", d.ID, d.IsRefreshable, utils.Truncate(d.Name, 60))
	}
	return nil
}
