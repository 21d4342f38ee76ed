// Package search maintains the retrieval index that pipeline documents are uploaded to.
package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Brandon-orbit/PSA-daisy/internal/models"
)

// Index schema constants shared by the backends.
const (
	VectorDimensions = 1536
	VectorProfile    = "vector-profile"
	VectorAlgorithm  = "hnsw-algorithm"
	ContentAnalyzer  = "en.microsoft"
)

// Index is a document index backend.
type Index interface {
	// EnsureIndex creates the index or updates it in place; repeated calls are no-ops.
	EnsureIndex(ctx context.Context) error
	// Upload adds or replaces docs in one call and reports the outcome per document.
	Upload(ctx context.Context, docs []models.Document) ([]DocumentResult, error)
	Search(ctx context.Context, query string, top int) (*Result, error)
	Close() error
}

// DocumentResult is the service's verdict on one uploaded document.
type DocumentResult struct {
	Key        string
	Succeeded  bool
	StatusCode int
	Message    string
}

// Result is a page of search hits. Total counts all matches, not only the page.
type Result struct {
	Hits  []*models.SearchHit
	Total int
}

// Backend names an index implementation.
type Backend string

const (
	// BackendAzure uses the Azure AI Search REST API.
	BackendAzure Backend = "azure"
	// BackendBleve uses a local Bleve index. Good for development and offline runs.
	BackendBleve Backend = "bleve"
)

// Config selects and configures a backend.
type Config struct {
	Backend   string      `yaml:"backend"`
	IndexName string      `yaml:"index_name"`
	Source    string      `yaml:"source"`
	Azure     AzureConfig `yaml:"azure"`
	Bleve     BleveConfig `yaml:"bleve"`
}

// New creates the index described by cfg. Supported backends: azure (default), bleve.
func New(cfg Config, logger *zap.Logger) (Index, error) {
	switch Backend(cfg.Backend) {
	case BackendAzure, "":
		return ready(NewAzureIndex(cfg.IndexName, cfg.Azure, WithAzureLogger(logger)))
	case BackendBleve:
		return ready(NewBleveIndex(cfg.Bleve.Path))
	default:
		return nil, fmt.Errorf("unknown search backend: %s (supported: azure, bleve)", cfg.Backend)
	}
}

func ready(idx Index, err error) (Index, error) {
	if err != nil {
		return nil, err
	}
	return idx, nil
}
