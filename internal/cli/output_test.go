package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brandon-orbit/PSA-daisy/internal/models"
)

func sampleResult() *models.PipelineRunResult {
	r := models.NewPipelineRunResult("run-1", "ds-1", []string{"sales", "stock"}, time.Unix(0, 0))
	r.Status = models.RunCompleted
	r.Message = "Indexed 1 of 2 queries"
	r.ProcessedData["sales"] = models.NewRowSet([]models.Row{models.NewRow("region", "A")})
	r.Blobs["sales"] = "powerbi_data/sales_1.parquet"
	r.Skipped["stock"] = "no rows returned"
	r.ExtractedRecords = 1
	r.IndexedDocuments = 1
	return r
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, OutputText, f)
	f, err = ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, OutputJSON, f)
	_, err = ParseFormat("yaml")
	assert.Error(t, err)
}

func TestWriteRunResult_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRunResult(&buf, sampleResult(), OutputText))
	out := buf.String()
	assert.Contains(t, out, "Run run-1 on dataset ds-1: completed")
	assert.Contains(t, out, "Indexed 1 of 2 queries")
	assert.Contains(t, out, "powerbi_data/sales_1.parquet")
	assert.Contains(t, out, "no rows returned")
	assert.Less(t, strings.Index(out, "sales "), strings.Index(out, "stock "), "queries keep request order")
}

func TestWriteRunResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRunResult(&buf, sampleResult(), OutputJSON))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "completed", decoded["status"])
	assert.Equal(t, float64(1), decoded["extractedRecords"])
}

func TestWriteSearchResults(t *testing.T) {
	response := &models.SearchResponse{
		Query:     "north",
		QueryTime: 7,
		Total:     1,
		Hits: []*models.SearchHit{{
			ID:       "powerbi_sales_1",
			Title:    "Power BI Data - sales",
			Content:  strings.Repeat("x", 300),
			Score:    0.75,
			Metadata: models.DocumentMetadata{Query: "sales", RowCount: 2, Columns: []string{"region", "amount"}},
		}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteSearchResults(&buf, response, OutputText))
	out := buf.String()
	assert.Contains(t, out, "Found 1 results in 7ms")
	assert.Contains(t, out, "Title: Power BI Data - sales")
	assert.Contains(t, out, "Columns: region, amount")
	assert.Contains(t, out, strings.Repeat("x", 200)+"...")
	assert.NotContains(t, out, strings.Repeat("x", 201))

	buf.Reset()
	require.NoError(t, WriteSearchResults(&buf, response, OutputJSON))
	var decoded models.SearchResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "powerbi_sales_1", decoded.Hits[0].ID)
}

func TestWriteRuns(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	runs := []*models.RunRecord{{
		ID: "run-1", DatasetID: "ds-1", Status: models.RunFailed,
		ExtractedRecords: 0, StartedAt: started, FinishedAt: started.Add(time.Second),
	}}
	var buf bytes.Buffer
	require.NoError(t, WriteRuns(&buf, runs, 5, OutputText))
	out := buf.String()
	assert.Contains(t, out, "5 run(s), showing 1")
	assert.Contains(t, out, "2024-05-01 12:00:00")
	assert.Contains(t, out, "failed")

	buf.Reset()
	require.NoError(t, WriteRun(&buf, runs[0], OutputText))
	assert.Contains(t, buf.String(), "Took: 1s")
}

func TestWriteDatasets(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDatasets(&buf, nil, OutputText))
	assert.Equal(t, "No datasets found\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteDatasets(&buf, []models.Dataset{{ID: "ds-1", Name: "Sales", IsRefreshable: true}}, OutputText))
	assert.Contains(t, buf.String(), "ds-1")
	assert.Contains(t, buf.String(), "Sales")
}
