package models

import "time"

// RunStatus is the overall outcome of a pipeline run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// PipelineRunResult aggregates all per-query outcomes of one pipeline run.
// It is owned by the caller once Run returns.
type PipelineRunResult struct {
	RunID     string    `json:"runId"`
	DatasetID string    `json:"datasetId"`
	Status    RunStatus `json:"status"`
	Message   string    `json:"message"`
	// Queries lists the query names in input order.
	Queries          []string                `json:"queries"`
	ExtractedData    map[string]*QueryResult `json:"extractedData"`
	ProcessedData    map[string]*RowSet      `json:"processedData"`
	Blobs            map[string]string       `json:"blobs"`
	Skipped          map[string]string       `json:"skipped,omitempty"`
	ExtractedRecords int                     `json:"extractedRecords"`
	IndexedDocuments int                     `json:"indexedDocuments"`
	StartedAt        time.Time               `json:"startedAt"`
	FinishedAt       time.Time               `json:"finishedAt"`
}

// NewPipelineRunResult returns an empty result with initialized maps.
func NewPipelineRunResult(runID, datasetID string, queries []string, startedAt time.Time) *PipelineRunResult {
	return &PipelineRunResult{
		RunID:         runID,
		DatasetID:     datasetID,
		Status:        RunFailed,
		Queries:       queries,
		ExtractedData: make(map[string]*QueryResult),
		ProcessedData: make(map[string]*RowSet),
		Blobs:         make(map[string]string),
		Skipped:       make(map[string]string),
		StartedAt:     startedAt,
	}
}

// Query outcomes recorded in the run history.
const (
	OutcomeIndexed = "indexed"
	OutcomeSkipped = "skipped"
)

// Reasons for queries the run stopped before indexing.
const (
	ReasonIndexFailed = "index batch failed"
	ReasonRunAborted  = "run aborted"
)

// QueryOutcome is the history record of one query within a run.
type QueryOutcome struct {
	Name     string `json:"name"`
	Outcome  string `json:"outcome"`
	BlobName string `json:"blobName,omitempty"`
	RowCount int    `json:"rowCount"`
	Reason   string `json:"reason,omitempty"`
}

// Outcomes returns one QueryOutcome per query, in input order.
func (r *PipelineRunResult) Outcomes() []QueryOutcome {
	out := make([]QueryOutcome, 0, len(r.Queries))
	for _, name := range r.Queries {
		o := QueryOutcome{Name: name}
		if rs, ok := r.ProcessedData[name]; ok && r.Status == RunCompleted {
			o.Outcome = OutcomeIndexed
			o.RowCount = rs.Len()
			o.BlobName = r.Blobs[name]
		} else {
			o.Outcome = OutcomeSkipped
			o.Reason = r.Skipped[name]
			if o.Reason == "" {
				o.Reason = ReasonRunAborted
				if ok {
					o.Reason = ReasonIndexFailed
				}
			}
		}
		out = append(out, o)
	}
	return out
}

// RunRecord is a stored pipeline run summary.
type RunRecord struct {
	ID               string         `json:"id"`
	DatasetID        string         `json:"datasetId"`
	Status           RunStatus      `json:"status"`
	Message          string         `json:"message"`
	ExtractedRecords int            `json:"extractedRecords"`
	IndexedDocuments int            `json:"indexedDocuments"`
	StartedAt        time.Time      `json:"startedAt"`
	FinishedAt       time.Time      `json:"finishedAt"`
	Queries          []QueryOutcome `json:"queries,omitempty"`
}
