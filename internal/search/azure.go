package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Brandon-orbit/PSA-daisy/internal/models"
)

// DefaultAPIVersion is the search REST API version used for every request.
const DefaultAPIVersion = "2023-11-01"

const maxResponseBody = 16 << 20

// AzureConfig identifies an Azure AI Search service.
type AzureConfig struct {
	ServiceName string `yaml:"service_name"`
	AdminKey    string `yaml:"admin_key"`
	// Endpoint overrides https://<service>.search.windows.net.
	Endpoint   string `yaml:"endpoint"`
	APIVersion string `yaml:"api_version"`
}

// ServiceError is a non-2xx reply from the search service.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("search service returned %d: %s", e.StatusCode, e.Body)
}

var _ Index = (*AzureIndex)(nil)

// AzureIndex talks to one index of an Azure AI Search service over REST.
type AzureIndex struct {
	name       string
	endpoint   string
	apiKey     string
	apiVersion string
	client     *http.Client
	logger     *zap.Logger
}

// AzureOption configures an AzureIndex.
type AzureOption func(*AzureIndex)

func WithAzureHTTPClient(c *http.Client) AzureOption {
	return func(a *AzureIndex) { a.client = c }
}

func WithAzureLogger(l *zap.Logger) AzureOption {
	return func(a *AzureIndex) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAzureIndex creates a client for index name.
func NewAzureIndex(name string, cfg AzureConfig, opts ...AzureOption) (*AzureIndex, error) {
	if name == "" {
		return nil, fmt.Errorf("azure search: index name is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.ServiceName == "" {
			return nil, fmt.Errorf("azure search: service name or endpoint is required")
		}
		endpoint = fmt.Sprintf("https://%s.search.windows.net", cfg.ServiceName)
	}
	if cfg.AdminKey == "" {
		return nil, fmt.Errorf("azure search: admin key is required")
	}
	a := &AzureIndex{
		name:       name,
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     cfg.AdminKey,
		apiVersion: cfg.APIVersion,
		client:     &http.Client{Timeout: 60 * time.Second},
		logger:     zap.NewNop(),
	}
	if a.apiVersion == "" {
		a.apiVersion = DefaultAPIVersion
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

type indexField struct {
	Name                string `json:"name"`
	Type                string `json:"type"`
	Key                 bool   `json:"key,omitempty"`
	Searchable          *bool  `json:"searchable,omitempty"`
	Filterable          *bool  `json:"filterable,omitempty"`
	Analyzer            string `json:"analyzer,omitempty"`
	Dimensions          int    `json:"dimensions,omitempty"`
	VectorSearchProfile string `json:"vectorSearchProfile,omitempty"`
}

type indexDefinition struct {
	Name         string       `json:"name"`
	Fields       []indexField `json:"fields"`
	VectorSearch vectorSearch `json:"vectorSearch"`
}

type vectorSearch struct {
	Profiles   []vectorProfile   `json:"profiles"`
	Algorithms []vectorAlgorithm `json:"algorithms"`
}

type vectorProfile struct {
	Name      string `json:"name"`
	Algorithm string `json:"algorithm"`
}

type vectorAlgorithm struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func boolPtr(b bool) *bool { return &b }

// definition is the index schema sent by EnsureIndex.
func (a *AzureIndex) definition() indexDefinition {
	return indexDefinition{
		Name: a.name,
		Fields: []indexField{
			{Name: "id", Type: "Edm.String", Key: true, Searchable: boolPtr(false)},
			{Name: "content", Type: "Edm.String", Searchable: boolPtr(true), Analyzer: ContentAnalyzer},
			{Name: "title", Type: "Edm.String", Searchable: boolPtr(true), Filterable: boolPtr(true)},
			{Name: "metadata", Type: "Edm.String", Searchable: boolPtr(false)},
			{Name: "vector", Type: "Collection(Edm.Single)", Searchable: boolPtr(true), Dimensions: VectorDimensions, VectorSearchProfile: VectorProfile},
		},
		VectorSearch: vectorSearch{
			Profiles:   []vectorProfile{{Name: VectorProfile, Algorithm: VectorAlgorithm}},
			Algorithms: []vectorAlgorithm{{Name: VectorAlgorithm, Kind: "hnsw"}},
		},
	}
}

// EnsureIndex issues a create-or-update of the index definition.
func (a *AzureIndex) EnsureIndex(ctx context.Context) error {
	_, err := a.call(ctx, http.MethodPut, "/indexes/"+url.PathEscape(a.name), a.definition())
	if err != nil {
		return fmt.Errorf("create or update index %s: %w", a.name, err)
	}
	a.logger.Debug("search index ensured", zap.String("index", a.name))
	return nil
}

type uploadDocument struct {
	Action   string    `json:"@search.action"`
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Metadata string    `json:"metadata"`
	Vector   []float32 `json:"vector,omitempty"`
}

type uploadResponse struct {
	Value []struct {
		Key          string  `json:"key"`
		Status       bool    `json:"status"`
		ErrorMessage *string `json:"errorMessage"`
		StatusCode   int     `json:"statusCode"`
	} `json:"value"`
}

// Upload sends docs in a single indexing batch with upload semantics.
// A 207 reply is not an error; the per-document results carry the failures.
func (a *AzureIndex) Upload(ctx context.Context, docs []models.Document) ([]DocumentResult, error) {
	batch := struct {
		Value []uploadDocument `json:"value"`
	}{Value: make([]uploadDocument, 0, len(docs))}
	for _, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata for %s: %w", d.ID, err)
		}
		batch.Value = append(batch.Value, uploadDocument{
			Action:   "upload",
			ID:       d.ID,
			Title:    d.Title,
			Content:  d.Content,
			Metadata: string(meta),
			Vector:   d.Vector,
		})
	}

	body, err := a.call(ctx, http.MethodPost, "/indexes/"+url.PathEscape(a.name)+"/docs/index", batch)
	if err != nil {
		return nil, err
	}
	var resp uploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode indexing response: %w", err)
	}
	results := make([]DocumentResult, 0, len(resp.Value))
	for _, v := range resp.Value {
		r := DocumentResult{Key: v.Key, Succeeded: v.Status, StatusCode: v.StatusCode}
		if v.ErrorMessage != nil {
			r.Message = *v.ErrorMessage
		}
		results = append(results, r)
	}
	return results, nil
}

type searchRequest struct {
	Search string `json:"search"`
	Top    int    `json:"top"`
	Count  bool   `json:"count"`
	Select string `json:"select"`
}

type searchResponse struct {
	Count *int `json:"@odata.count"`
	Value []struct {
		Score    float64 `json:"@search.score"`
		ID       string  `json:"id"`
		Title    string  `json:"title"`
		Content  string  `json:"content"`
		Metadata string  `json:"metadata"`
	} `json:"value"`
}

// Search runs a full-text query and returns up to top hits.
func (a *AzureIndex) Search(ctx context.Context, query string, top int) (*Result, error) {
	body, err := a.call(ctx, http.MethodPost, "/indexes/"+url.PathEscape(a.name)+"/docs/search", searchRequest{
		Search: query,
		Top:    top,
		Count:  true,
		Select: "id,title,content,metadata",
	})
	if err != nil {
		return nil, fmt.Errorf("search index %s: %w", a.name, err)
	}
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := &Result{Hits: make([]*models.SearchHit, 0, len(resp.Value))}
	for _, v := range resp.Value {
		hit := &models.SearchHit{ID: v.ID, Title: v.Title, Content: v.Content, Score: v.Score}
		if v.Metadata != "" {
			if err := json.Unmarshal([]byte(v.Metadata), &hit.Metadata); err != nil {
				a.logger.Debug("unreadable document metadata", zap.String("id", v.ID), zap.Error(err))
			}
		}
		out.Hits = append(out.Hits, hit)
	}
	out.Total = len(out.Hits)
	if resp.Count != nil {
		out.Total = *resp.Count
	}
	return out, nil
}

func (a *AzureIndex) Close() error { return nil }

func (a *AzureIndex) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	u := a.endpoint + path + "?api-version=" + url.QueryEscape(a.apiVersion)
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServiceError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
