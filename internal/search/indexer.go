package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Brandon-orbit/PSA-daisy/internal/models"
)

// DefaultSource tags documents produced by the pipeline.
const DefaultSource = "powerbi"

// IndexingError reports a failed batch upload. Failed lists the document keys the
// service rejected when the call itself succeeded but some documents did not.
type IndexingError struct {
	Failed []string
	Err    error
}

func (e *IndexingError) Error() string {
	if len(e.Failed) > 0 {
		return fmt.Sprintf("indexing failed for %d document(s) [%s]: %v", len(e.Failed), strings.Join(e.Failed, ", "), e.Err)
	}
	return fmt.Sprintf("indexing failed: %v", e.Err)
}

func (e *IndexingError) Unwrap() error { return e.Err }

// Indexer turns row sets into documents and uploads them to an Index.
type Indexer struct {
	index  Index
	source string
	now    func() time.Time
	logger *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithSource sets the source tag used in document ids and metadata.
func WithSource(s string) IndexerOption {
	return func(ix *Indexer) {
		if s != "" {
			ix.source = s
		}
	}
}

func WithClock(now func() time.Time) IndexerOption {
	return func(ix *Indexer) { ix.now = now }
}

func WithLogger(l *zap.Logger) IndexerOption {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

// NewIndexer creates an Indexer over idx.
func NewIndexer(idx Index, opts ...IndexerOption) *Indexer {
	ix := &Indexer{index: idx, source: DefaultSource, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// EnsureIndex makes sure the target index exists with the document schema.
func (ix *Indexer) EnsureIndex(ctx context.Context) (bool, error) {
	if err := ix.index.EnsureIndex(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// BuildDocuments creates one document per non-empty row set. Ids are
// "<source>_<query>_<millis>" and unique within the returned slice.
func (ix *Indexer) BuildDocuments(sets []models.NamedRowSet) []models.Document {
	ts := ix.now().UnixMilli()
	seen := make(map[string]int, len(sets))
	docs := make([]models.Document, 0, len(sets))
	for _, s := range sets {
		if s.RowSet.IsEmpty() {
			continue
		}
		id := fmt.Sprintf("%s_%s_%d", ix.source, s.Name, ts)
		if n := seen[id]; n > 0 {
			seen[id] = n + 1
			id = fmt.Sprintf("%s_%d", id, n)
		} else {
			seen[id] = 1
		}
		docs = append(docs, models.Document{
			ID:      id,
			Title:   "Power BI Data - " + s.Name,
			Content: s.RowSet.Content(),
			Metadata: models.DocumentMetadata{
				Source:    ix.source,
				Query:     s.Name,
				Timestamp: ts,
				RowCount:  s.RowSet.Len(),
				Columns:   append([]string(nil), s.RowSet.Columns...),
			},
		})
	}
	return docs
}

// IndexBatch uploads one document per non-empty row set in a single call.
// It returns false without error when there is nothing to upload.
func (ix *Indexer) IndexBatch(ctx context.Context, sets []models.NamedRowSet) (bool, error) {
	docs := ix.BuildDocuments(sets)
	if len(docs) == 0 {
		return false, nil
	}
	results, err := ix.index.Upload(ctx, docs)
	if err != nil {
		return false, &IndexingError{Err: err}
	}
	var failed []string
	var firstMsg string
	for _, r := range results {
		if !r.Succeeded {
			failed = append(failed, r.Key)
			if firstMsg == "" {
				firstMsg = r.Message
			}
		}
	}
	if len(failed) > 0 {
		if firstMsg == "" {
			firstMsg = "rejected by search service"
		}
		return false, &IndexingError{Failed: failed, Err: fmt.Errorf("%s", firstMsg)}
	}
	ix.logger.Info("indexed documents", zap.Int("count", len(docs)))
	return true, nil
}

// Search runs q against the index.
func (ix *Indexer) Search(ctx context.Context, q models.SearchQuery) (*models.SearchResponse, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := ix.index.Search(ctx, q.Query, q.Top)
	if err != nil {
		return nil, err
	}
	return &models.SearchResponse{
		Query:     q.Query,
		Hits:      res.Hits,
		Total:     res.Total,
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}
