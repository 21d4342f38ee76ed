package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brandon-orbit/PSA-daisy/internal/models"
)

func newTestAzure(t *testing.T, h http.HandlerFunc) *AzureIndex {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	idx, err := NewAzureIndex("powerbi-index", AzureConfig{Endpoint: srv.URL, AdminKey: "admin"})
	require.NoError(t, err)
	return idx
}

func TestAzureIndex_EnsureIndex(t *testing.T) {
	idx := newTestAzure(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/indexes/powerbi-index", r.URL.Path)
		assert.Equal(t, DefaultAPIVersion, r.URL.Query().Get("api-version"))
		assert.Equal(t, "admin", r.Header.Get("api-key"))

		var def map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&def))
		assert.Equal(t, "powerbi-index", def["name"])
		fields := def["fields"].([]any)
		require.Len(t, fields, 5)
		id := fields[0].(map[string]any)
		assert.Equal(t, true, id["key"])
		content := fields[1].(map[string]any)
		assert.Equal(t, "en.microsoft", content["analyzer"])
		vec := fields[4].(map[string]any)
		assert.Equal(t, "Collection(Edm.Single)", vec["type"])
		assert.EqualValues(t, 1536, vec["dimensions"])
		assert.Equal(t, "vector-profile", vec["vectorSearchProfile"])

		w.WriteHeader(http.StatusNoContent)
	})
	require.NoError(t, idx.EnsureIndex(context.Background()))
}

func TestAzureIndex_EnsureIndexFailure(t *testing.T) {
	idx := newTestAzure(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"forbidden"}}`, http.StatusForbidden)
	})
	err := idx.EnsureIndex(context.Background())
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
}

func TestAzureIndex_Upload(t *testing.T) {
	idx := newTestAzure(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/indexes/powerbi-index/docs/index", r.URL.Path)
		var batch struct {
			Value []map[string]any `json:"value"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		require.Len(t, batch.Value, 2)
		assert.Equal(t, "upload", batch.Value[0]["@search.action"])

		var meta models.DocumentMetadata
		require.NoError(t, json.Unmarshal([]byte(batch.Value[0]["metadata"].(string)), &meta))
		assert.Equal(t, 2, meta.RowCount)
		_, hasVector := batch.Value[0]["vector"]
		assert.False(t, hasVector)

		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `{"value":[
			{"key":"d1","status":true,"errorMessage":null,"statusCode":201},
			{"key":"d2","status":false,"errorMessage":"bad","statusCode":400}]}`)
	})

	res, err := idx.Upload(context.Background(), []models.Document{
		{ID: "d1", Metadata: models.DocumentMetadata{RowCount: 2}},
		{ID: "d2"},
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.True(t, res[0].Succeeded)
	assert.False(t, res[1].Succeeded)
	assert.Equal(t, "bad", res[1].Message)
	assert.Equal(t, 400, res[1].StatusCode)
}

func TestAzureIndex_Search(t *testing.T) {
	idx := newTestAzure(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/indexes/powerbi-index/docs/search", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "region", req["search"])
		assert.EqualValues(t, 5, req["top"])
		fmt.Fprint(w, `{"@odata.count":12,"value":[{"@search.score":1.5,"id":"d1","title":"Power BI Data - sales","content":"region","metadata":"{\"query\":\"sales\",\"rowCount\":2}"}]}`)
	})

	res, err := idx.Search(context.Background(), "region", 5)
	require.NoError(t, err)
	assert.Equal(t, 12, res.Total)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, 1.5, res.Hits[0].Score)
	assert.Equal(t, "sales", res.Hits[0].Metadata.Query)
	assert.Equal(t, 2, res.Hits[0].Metadata.RowCount)
}

func TestNewAzureIndex_Validation(t *testing.T) {
	_, err := NewAzureIndex("", AzureConfig{ServiceName: "s", AdminKey: "k"})
	assert.Error(t, err)
	_, err = NewAzureIndex("i", AzureConfig{AdminKey: "k"})
	assert.Error(t, err)
	_, err = NewAzureIndex("i", AzureConfig{ServiceName: "s"})
	assert.Error(t, err)

	idx, err := NewAzureIndex("i", AzureConfig{ServiceName: "svc", AdminKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "https://svc.search.windows.net", idx.endpoint)
}
