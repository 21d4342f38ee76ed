// Package relay proxies chat requests to an upstream service and streams its reply back.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Brandon-orbit/PSA-daisy/internal/metrics"
)

const (
	defaultChunkSize = 32 << 10
	maxRequestBody   = 1 << 20
	maxErrorBody     = 64 << 10
)

// State is the lifecycle position of one relayed request.
type State int

const (
	StateForwarding State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateForwarding:
		return "forwarding"
	case StateStreaming:
		return "streaming"
	default:
		return "closed"
	}
}

// ErrNoBody is returned when the upstream reply carries no body to stream.
var ErrNoBody = errors.New("upstream returned no body")

// ConfigurationError means the relay cannot forward at all.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "relay not configured: " + e.Reason
}

// UpstreamError is a non-success reply from the upstream. Message is the upstream's
// body, or its status text when the body is empty.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}

// ChatRequest is the inbound and forwarded payload.
type ChatRequest struct {
	Message string `json:"message"`
}

// Relay is an http.Handler for POST requests carrying a ChatRequest.
type Relay struct {
	upstreamURL string
	client      *http.Client
	chunkSize   int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures a Relay.
type Option func(*Relay)

// WithHTTPClient sets the upstream client. It should not set a Timeout, which would cut
// long streams; cancellation follows the inbound request.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Relay) { r.client = c }
}

func WithChunkSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// New creates a relay to upstreamURL. An empty URL is accepted; every request then
// fails with a ConfigurationError.
func New(upstreamURL string, opts ...Option) *Relay {
	r := &Relay{
		upstreamURL: upstreamURL,
		client:      &http.Client{},
		chunkSize:   defaultChunkSize,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Forward posts msg upstream and returns the open response after checking its status.
// The caller owns the returned body.
func (r *Relay) Forward(ctx context.Context, msg ChatRequest) (*http.Response, error) {
	if r.upstreamURL == "" {
		return nil, &ConfigurationError{Reason: "upstream URL is not set"}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.upstreamURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: msg}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrNoBody
	}
	return resp, nil
}

// Stream copies body to w one chunk at a time, flushing after every write so each
// chunk reaches the client before the next read. It returns the number of chunks.
func (r *Relay) Stream(w http.ResponseWriter, body io.Reader) (int, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, r.chunkSize)
	chunks := 0
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return chunks, fmt.Errorf("write to client: %w", werr)
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return chunks, fmt.Errorf("flush to client: %w", ferr)
			}
			chunks++
			r.metrics.IncRelayChunks()
		}
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return chunks, fmt.Errorf("read from upstream: %w", err)
		}
	}
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var msg ChatRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, maxRequestBody)).Decode(&msg); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	resp, err := r.Forward(req.Context(), msg)
	if err != nil {
		var cfgErr *ConfigurationError
		var upErr *UpstreamError
		switch {
		case errors.As(err, &cfgErr):
			r.logger.Error("chat relay is not configured", zap.Error(err))
			r.fail(w, http.StatusInternalServerError, "config_error", err.Error())
		case errors.As(err, &upErr):
			r.logger.Warn("chat upstream rejected request", zap.Int("status", upErr.StatusCode))
			r.fail(w, upErr.StatusCode, "upstream_error", upErr.Message)
		case errors.Is(err, ErrNoBody):
			r.fail(w, http.StatusInternalServerError, "no_body", err.Error())
		default:
			r.logger.Warn("chat upstream unreachable", zap.Error(err))
			r.fail(w, http.StatusBadGateway, "transport_error", err.Error())
		}
		return
	}
	defer resp.Body.Close()

	r.logger.Debug("relay state", zap.Stringer("state", StateStreaming))
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	chunks, err := r.Stream(w, resp.Body)
	if err != nil {
		// Headers are already sent; the client sees a truncated stream.
		r.logger.Warn("chat stream interrupted", zap.Int("chunks", chunks), zap.Error(err))
		r.metrics.ObserveRelay("interrupted")
		return
	}
	r.logger.Debug("relay state", zap.Stringer("state", StateClosed), zap.Int("chunks", chunks))
	r.metrics.ObserveRelay("streamed")
}

func (r *Relay) fail(w http.ResponseWriter, status int, outcome, message string) {
	r.metrics.ObserveRelay(outcome)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
