package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkRecorder records every Write and signals once per flushed write.
type chunkRecorder struct {
	*httptest.ResponseRecorder
	chunks  []string
	pending bool
	flushed chan struct{}
}

func newChunkRecorder() *chunkRecorder {
	return &chunkRecorder{ResponseRecorder: httptest.NewRecorder(), flushed: make(chan struct{}, 16)}
}

func (c *chunkRecorder) Write(b []byte) (int, error) {
	c.chunks = append(c.chunks, string(b))
	c.pending = true
	return c.ResponseRecorder.Write(b)
}

func (c *chunkRecorder) Flush() {
	if c.pending {
		c.pending = false
		c.flushed <- struct{}{}
	}
	c.ResponseRecorder.Flush()
}

func chatRequest(msg string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"`+msg+`"}`))
}

func TestRelay_StreamsChunksInOrder(t *testing.T) {
	rec := newChunkRecorder()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body.Message)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "text/plain")
		for i, chunk := range []string{"A", "B", "C"} {
			_, _ = w.Write([]byte(chunk))
			w.(http.Flusher).Flush()
			if i < 2 {
				select {
				case <-rec.flushed:
				case <-time.After(5 * time.Second):
					t.Error("relay did not forward chunk")
					return
				}
			}
		}
	}))
	defer upstream.Close()

	New(upstream.URL).ServeHTTP(rec, chatRequest("hello"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"A", "B", "C"}, rec.chunks)
	assert.Equal(t, "ABC", rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
}

func TestRelay_UnsetUpstream(t *testing.T) {
	var dialed int32
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&dialed, 1)
		return nil, http.ErrHandlerTimeout
	})}
	rec := httptest.NewRecorder()

	New("", WithHTTPClient(client)).ServeHTTP(rec, chatRequest("hi"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "not configured")
	assert.Zero(t, atomic.LoadInt32(&dialed))
}

func TestRelay_ForwardsUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer upstream.Close()
	rec := httptest.NewRecorder()

	New(upstream.URL).ServeHTTP(rec, chatRequest("hi"))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "slow down", body["error"])
	assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestRelay_UpstreamFailureWithoutBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()
	rec := httptest.NewRecorder()

	New(upstream.URL).ServeHTTP(rec, chatRequest("hi"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Service Unavailable")
}

func TestRelay_MissingUpstreamBody(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Header: http.Header{}, Request: r}, nil
	})}
	rec := httptest.NewRecorder()

	New("http://chat.invalid/api", WithHTTPClient(client)).ServeHTTP(rec, chatRequest("hi"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "no body")
}

func TestRelay_TransportFailure(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()
	rec := httptest.NewRecorder()

	New(url).ServeHTTP(rec, chatRequest("hi"))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRelay_InvalidRequestBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{"))

	New("http://unused").ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "forwarding", StateForwarding.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "closed", StateClosed.String())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
