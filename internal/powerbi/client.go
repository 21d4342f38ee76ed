// Package powerbi executes DAX queries against datasets of a reporting workspace.
package powerbi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Brandon-orbit/PSA-daisy/internal/auth"
	"github.com/Brandon-orbit/PSA-daisy/internal/backoff"
	"github.com/Brandon-orbit/PSA-daisy/internal/metrics"
	"github.com/Brandon-orbit/PSA-daisy/internal/models"
)

const (
	// DefaultBaseURL is the reporting service REST root.
	DefaultBaseURL = "https://api.powerbi.com/v1.0/myorg"
	// DefaultMaxAttempts is the number of tries per query.
	DefaultMaxAttempts = 3

	maxResponseBody = 256 << 20
	maxErrorBody    = 64 << 10
)

// ErrUnauthorized is reported when the service rejects the bearer credential.
var ErrUnauthorized = errors.New("credential rejected by reporting service")

// StatusError is a non-2xx reply from the reporting service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reporting service returned %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps 401 to ErrUnauthorized.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// QueryExecutionError is returned once every attempt for a query has failed.
// Err is the error of the last attempt.
type QueryExecutionError struct {
	DatasetID string
	Attempts  int
	Err       error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("query on dataset %s failed after %d attempt(s): %v", e.DatasetID, e.Attempts, e.Err)
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }

// Client talks to the dataset endpoints of one workspace.
type Client struct {
	baseURL      string
	workspaceID  string
	httpClient   *http.Client
	limiter      *rate.Limiter
	policy       backoff.Policy
	sleep        backoff.Sleeper
	includeNulls bool
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outbound requests; nil disables limiting.
func WithRateLimit(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithBackoff sets the wait policy between attempts.
func WithBackoff(p backoff.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithSleeper replaces the wait implementation (tests).
func WithSleeper(s backoff.Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithIncludeNulls controls the serializer setting sent with each query.
func WithIncludeNulls(v bool) Option {
	return func(c *Client) { c.includeNulls = v }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client for workspaceID.
func NewClient(workspaceID string, opts ...Option) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		workspaceID:  workspaceID,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		policy:       backoff.Constant(backoff.DefaultInterval),
		sleep:        backoff.Sleep,
		includeNulls: true,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type executeRequest struct {
	Queries            []queryItem        `json:"queries"`
	SerializerSettings serializerSettings `json:"serializerSettings"`
}

type queryItem struct {
	Query string `json:"query"`
}

type serializerSettings struct {
	IncludeNulls bool `json:"includeNulls"`
}

// Execute runs query against datasetID, retrying up to maxAttempts times with the
// configured backoff between attempts. A 401 is not retried.
func (c *Client) Execute(ctx context.Context, datasetID, query string, cred auth.Credential, maxAttempts int) (*models.QueryResult, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	payload, err := json.Marshal(executeRequest{
		Queries:            []queryItem{{Query: query}},
		SerializerSettings: serializerSettings{IncludeNulls: c.includeNulls},
	})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	endpoint := c.baseURL + "/groups/" + url.PathEscape(c.workspaceID) +
		"/datasets/" + url.PathEscape(datasetID) + "/executeQueries"

	b := c.policy.New()
	for attempt := 1; ; attempt++ {
		res, err := c.executeOnce(ctx, endpoint, payload, cred)
		if err == nil {
			c.metrics.ObserveAttempt("success")
			return res, nil
		}
		c.metrics.ObserveAttempt("failure")
		c.logger.Warn("query attempt failed",
			zap.String("dataset_id", datasetID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))

		if errors.Is(err, ErrUnauthorized) || attempt >= maxAttempts {
			return nil, &QueryExecutionError{DatasetID: datasetID, Attempts: attempt, Err: err}
		}
		if ctx.Err() != nil {
			return nil, &QueryExecutionError{DatasetID: datasetID, Attempts: attempt, Err: errors.Join(ctx.Err(), err)}
		}
		wait, stop := b.Next()
		if stop {
			return nil, &QueryExecutionError{DatasetID: datasetID, Attempts: attempt, Err: err}
		}
		if serr := c.sleep(ctx, wait); serr != nil {
			return nil, &QueryExecutionError{DatasetID: datasetID, Attempts: attempt, Err: errors.Join(serr, err)}
		}
	}
}

func (c *Client) executeOnce(ctx context.Context, endpoint string, payload []byte, cred auth.Credential) (*models.QueryResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", cred.AuthorizationHeader())
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	res, err := models.ParseQueryResult(body)
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("query rejected: %w", err)
	}
	return res, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

// ListDatasets returns the datasets of the configured workspace. It does not retry.
func (c *Client) ListDatasets(ctx context.Context, cred auth.Credential) ([]models.Dataset, error) {
	return c.ListWorkspaceDatasets(ctx, "", cred)
}

// ListWorkspaceDatasets returns the datasets of workspaceID, or of the configured
// workspace when workspaceID is empty.
func (c *Client) ListWorkspaceDatasets(ctx context.Context, workspaceID string, cred auth.Credential) ([]models.Dataset, error) {
	if workspaceID == "" {
		workspaceID = c.workspaceID
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	endpoint := c.baseURL + "/groups/" + url.PathEscape(workspaceID) + "/datasets"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", cred.AuthorizationHeader())
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	var out struct {
		Value []models.Dataset `json:"value"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode datasets: %w", err)
	}
	if out.Value == nil {
		out.Value = []models.Dataset{}
	}
	return out.Value, nil
}
