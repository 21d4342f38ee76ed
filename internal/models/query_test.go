package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuerySet_PreservesInsertionOrder(t *testing.T) {
	var qs QuerySet
	body := `{"sales":"EVALUATE Sales","customers":"EVALUATE Customer","products":"EVALUATE Product"}`
	require.NoError(t, json.Unmarshal([]byte(body), &qs))
	assert.Equal(t, []string{"sales", "customers", "products"}, qs.Names())
	assert.Equal(t, "EVALUATE Customer", qs[1].Expression)

	out, err := json.Marshal(qs)
	require.NoError(t, err)
	assert.JSONEq(t, body, string(out))
}

func TestQuerySet_Errors(t *testing.T) {
	var qs QuerySet
	assert.Error(t, json.Unmarshal([]byte(`{"a":"x","a":"y"}`), &qs))
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &qs))
	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &qs))
}

func TestParseQueryResult(t *testing.T) {
	body := []byte(`{"results":[{"tables":[{"rows":[{"Sales[Region]":"A","[Total]":10}]}]}]}`)
	r, err := ParseQueryResult(body)
	require.NoError(t, err)
	require.Len(t, r.Results, 1)
	require.Len(t, r.Results[0].Tables, 1)
	assert.Equal(t, []string{"Sales[Region]", "[Total]"}, r.Results[0].Tables[0].Rows[0].Keys())
	assert.NoError(t, r.Err())

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, string(body), string(out))
}

func TestQueryResult_Err(t *testing.T) {
	r, err := ParseQueryResult([]byte(`{"results":[{"error":{"code":"DatasetExecuteQueriesError","message":"bad DAX"}}]}`))
	require.NoError(t, err)
	require.Error(t, r.Err())
	assert.Contains(t, r.Err().Error(), "bad DAX")
}
