package powerbi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brandon-orbit/PSA-daisy/internal/auth"
)

const salesResult = `{"results":[{"tables":[{"rows":[{"region":"A","amount":10},{"region":"B","amount":null}]}]}]}`

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) (*Client, *recordingSleeper) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s := &recordingSleeper{}
	opts = append([]Option{WithBaseURL(srv.URL), WithSleeper(s.Sleep)}, opts...)
	return NewClient("ws-1", opts...), s
}

var cred = auth.Credential{Token: "tok"}

func TestExecute_Success(t *testing.T) {
	c, sleeper := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/groups/ws-1/datasets/ds-1/executeQueries", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		queries := body["queries"].([]any)
		assert.Equal(t, "EVALUATE Sales", queries[0].(map[string]any)["query"])
		assert.Equal(t, true, body["serializerSettings"].(map[string]any)["includeNulls"])

		fmt.Fprint(w, salesResult)
	})

	res, err := c.Execute(context.Background(), "ds-1", "EVALUATE Sales", cred, 3)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Len(t, res.Results[0].Tables[0].Rows, 2)
	assert.Empty(t, sleeper.waits)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, salesResult, string(raw))
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	c, sleeper := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, salesResult)
	})

	res, err := c.Execute(context.Background(), "ds-1", "EVALUATE Sales", cred, 3)
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeper.waits)
}

func TestExecute_AllAttemptsFail(t *testing.T) {
	var calls int32
	c, sleeper := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "failure %d", n)
	})

	_, err := c.Execute(context.Background(), "ds-1", "EVALUATE Sales", cred, 3)
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Len(t, sleeper.waits, 2)

	var qe *QueryExecutionError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 3, qe.Attempts)
	assert.Equal(t, "ds-1", qe.DatasetID)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, "failure 3", se.Body)
}

func TestExecute_SingleAttempt(t *testing.T) {
	var calls int32
	c, sleeper := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Execute(context.Background(), "ds-1", "q", cred, 0)
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Empty(t, sleeper.waits)
}

func TestExecute_UnauthorizedIsNotRetried(t *testing.T) {
	var calls int32
	c, sleeper := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Execute(context.Background(), "ds-1", "q", cred, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Empty(t, sleeper.waits)
}

func TestExecute_EnvelopeErrorCountsAsFailure(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			fmt.Fprint(w, `{"error":{"code":"DatasetExecuteQueriesError","message":"bad DAX"}}`)
			return
		}
		fmt.Fprint(w, salesResult)
	})

	_, err := c.Execute(context.Background(), "ds-1", "q", cred, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestExecute_CancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient("ws-1", WithBaseURL(srv.URL), WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := c.Execute(ctx, "ds-1", "q", cred, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestListDatasets(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/groups/ws-1/datasets", r.URL.Path)
		_, _ = io.WriteString(w, `{"value":[{"id":"ds-1","name":"Sales","isRefreshable":true}]}`)
	})

	ds, err := c.ListDatasets(context.Background(), cred)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "ds-1", ds[0].ID)
	assert.Equal(t, "Sales", ds[0].Name)
	assert.True(t, ds[0].IsRefreshable)
}

func TestListWorkspaceDatasets(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/groups/ws-other/datasets", r.URL.Path)
		_, _ = io.WriteString(w, `{"value":[]}`)
	})

	ds, err := c.ListWorkspaceDatasets(context.Background(), "ws-other", cred)
	require.NoError(t, err)
	assert.Empty(t, ds)
	assert.NotNil(t, ds)
}

func TestListDatasets_Unauthorized(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.ListDatasets(context.Background(), cred)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
