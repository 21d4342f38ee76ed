package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type s3Put struct {
	path        string
	contentType string
	data        string
}

func TestS3Uploader_Upload(t *testing.T) {
	var mu sync.Mutex
	var puts []s3Put
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		mu.Lock()
		puts = append(puts, s3Put{path: r.URL.Path, contentType: r.Header.Get("Content-Type"), data: string(body)})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := NewS3Uploader("reports", S3Config{
		Endpoint:        srv.URL,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		PathStyle:       true,
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, u.Upload(ctx, "powerbi_data/sales_1.parquet", strings.NewReader("first"), 5))
	require.NoError(t, u.Upload(ctx, "powerbi_data/sales_1.parquet", strings.NewReader("second"), 6))

	require.Len(t, puts, 2)
	for _, p := range puts {
		assert.Equal(t, "/reports/powerbi_data/sales_1.parquet", p.path)
		assert.Equal(t, "application/vnd.apache.parquet", p.contentType)
	}
	assert.Equal(t, "first", puts[0].data)
	assert.Equal(t, "second", puts[1].data)
	assert.Equal(t, "s3://reports/powerbi_data/sales_1.parquet", u.Location("powerbi_data/sales_1.parquet"))
}

func TestS3Uploader_UploadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
	}))
	defer srv.Close()

	u, err := NewS3Uploader("reports", S3Config{
		Endpoint:        srv.URL,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		PathStyle:       true,
	})
	require.NoError(t, err)

	err = u.Upload(context.Background(), "powerbi_data/sales_1.parquet", strings.NewReader("x"), 1)
	assert.ErrorContains(t, err, `put object "powerbi_data/sales_1.parquet"`)
}
