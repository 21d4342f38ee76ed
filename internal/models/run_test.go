package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOutcomes_Completed(t *testing.T) {
	r := NewPipelineRunResult("run-1", "ds", []string{"sales", "empty"}, time.Unix(0, 0))
	r.ProcessedData["sales"] = NewRowSet([]Row{NewRow("region", "North")})
	r.Blobs["sales"] = "powerbi_data/sales_1.parquet"
	r.Skipped["empty"] = "no rows returned"
	r.Status = RunCompleted

	assert.Equal(t, []QueryOutcome{
		{Name: "sales", Outcome: OutcomeIndexed, BlobName: "powerbi_data/sales_1.parquet", RowCount: 1},
		{Name: "empty", Outcome: OutcomeSkipped, Reason: "no rows returned"},
	}, r.Outcomes())
}

func TestOutcomes_IndexBatchFailed(t *testing.T) {
	r := NewPipelineRunResult("run-1", "ds", []string{"sales", "broken"}, time.Unix(0, 0))
	r.ProcessedData["sales"] = NewRowSet([]Row{NewRow("region", "North")})
	r.Blobs["sales"] = "powerbi_data/sales_1.parquet"
	r.Skipped["broken"] = "bad query"

	out := r.Outcomes()
	assert.Equal(t, OutcomeSkipped, out[0].Outcome)
	assert.Equal(t, ReasonIndexFailed, out[0].Reason)
	assert.Equal(t, "bad query", out[1].Reason)
}

func TestOutcomes_RunAborted(t *testing.T) {
	r := NewPipelineRunResult("run-1", "ds", []string{"sales"}, time.Unix(0, 0))

	out := r.Outcomes()
	assert.Equal(t, ReasonRunAborted, out[0].Reason)
}
