package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/Brandon-orbit/PSA-daisy/internal/models"
)

var _ Index = (*BleveIndex)(nil)

// BleveIndex is a local Index backed by Bleve. Vectors are not stored.
type BleveIndex struct {
	index bleve.Index
}

type bleveDocument struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Metadata string `json:"metadata"`
}

func newIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer: lowercase + tokenize without stemming, so column values match verbatim.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", text)
	docMapping.AddFieldMappingsAt("title", text)
	docMapping.AddFieldMappingsAt("id", bleve.NewKeywordFieldMapping())
	meta := bleve.NewTextFieldMapping()
	meta.Index = false
	meta.IncludeInAll = false
	docMapping.AddFieldMappingsAt("metadata", meta)

	im.AddDocumentMapping("document", docMapping)
	im.DefaultType = "document"
	im.DefaultMapping = docMapping
	return im
}

// BleveConfig configures the local Bleve backend.
type BleveConfig struct {
	// Path is the index directory. Empty keeps the index in memory.
	Path string `yaml:"path"`
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path keeps the index in memory.
// If the index mapping changes, remove the index directory to rebuild it.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(newIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, newIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// EnsureIndex is a no-op; the index exists once NewBleveIndex returns.
func (b *BleveIndex) EnsureIndex(ctx context.Context) error {
	return ctx.Err()
}

// Upload indexes docs in one batch. The batch either applies fully or fails.
func (b *BleveIndex) Upload(ctx context.Context, docs []models.Document) ([]DocumentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch := b.index.NewBatch()
	for _, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata for %s: %w", d.ID, err)
		}
		if err := batch.Index(d.ID, bleveDocument{
			ID:       d.ID,
			Title:    d.Title,
			Content:  d.Content,
			Metadata: string(meta),
		}); err != nil {
			return nil, fmt.Errorf("stage document %s: %w", d.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return nil, fmt.Errorf("Bleve batch failed: %w", err)
	}
	results := make([]DocumentResult, len(docs))
	for i, d := range docs {
		results[i] = DocumentResult{Key: d.ID, Succeeded: true, StatusCode: 201}
	}
	return results, nil
}

// Search runs a match query over title and content.
func (b *BleveIndex) Search(ctx context.Context, query string, top int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = top
	req.Fields = []string{"*"}
	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := &Result{Hits: make([]*models.SearchHit, 0, len(results.Hits)), Total: int(results.Total)}
	for _, h := range results.Hits {
		hit := &models.SearchHit{ID: h.ID, Score: h.Score}
		hit.Title, _ = h.Fields["title"].(string)
		hit.Content, _ = h.Fields["content"].(string)
		if meta, ok := h.Fields["metadata"].(string); ok && meta != "" {
			_ = json.Unmarshal([]byte(meta), &hit.Metadata)
		}
		out.Hits = append(out.Hits, hit)
	}
	return out, nil
}

// DocCount returns the number of indexed documents.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

func (b *BleveIndex) Close() error {
	return b.index.Close()
}
