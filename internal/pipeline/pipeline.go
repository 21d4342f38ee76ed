// Package pipeline runs the extract → normalize → persist → index flow for one dataset.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Brandon-orbit/PSA-daisy/internal/auth"
	"github.com/Brandon-orbit/PSA-daisy/internal/columnar"
	"github.com/Brandon-orbit/PSA-daisy/internal/metrics"
	"github.com/Brandon-orbit/PSA-daisy/internal/models"
	"github.com/Brandon-orbit/PSA-daisy/internal/powerbi"
)

// DefaultBlobPrefix is the folder parquet blobs are written under.
const DefaultBlobPrefix = "powerbi_data"

// CredentialSource hands out bearer credentials.
type CredentialSource interface {
	Acquire(ctx context.Context) (auth.Credential, error)
	Invalidate(token string)
}

// Executor runs one query with retries.
type Executor interface {
	Execute(ctx context.Context, datasetID, query string, cred auth.Credential, maxAttempts int) (*models.QueryResult, error)
}

// Persister stores a row set under a blob name.
type Persister interface {
	Persist(ctx context.Context, rs *models.RowSet, blobName string) (*columnar.Confirmation, error)
}

// Indexer maintains the search index.
type Indexer interface {
	EnsureIndex(ctx context.Context) (bool, error)
	IndexBatch(ctx context.Context, sets []models.NamedRowSet) (bool, error)
}

// RunRecorder keeps a history of finished runs.
type RunRecorder interface {
	SaveRun(ctx context.Context, run *models.PipelineRunResult) error
}

// Orchestrator sequences the pipeline stages. It holds no per-run state and may
// be used for concurrent runs.
type Orchestrator struct {
	creds     CredentialSource
	executor  Executor
	persister Persister
	indexer   Indexer

	recorder    RunRecorder
	maxAttempts int
	concurrency int
	blobPrefix  string
	now         func() time.Time
	newID       func() string
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxAttempts sets the attempts per query (default powerbi.DefaultMaxAttempts).
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithConcurrency bounds how many queries execute at once (default 1).
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func WithBlobPrefix(p string) Option {
	return func(o *Orchestrator) { o.blobPrefix = p }
}

func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator replaces the run id source (default random UUIDs).
func WithIDGenerator(f func() string) Option {
	return func(o *Orchestrator) { o.newID = f }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator.
func New(creds CredentialSource, executor Executor, persister Persister, indexer Indexer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		creds:       creds,
		executor:    executor,
		persister:   persister,
		indexer:     indexer,
		maxAttempts: powerbi.DefaultMaxAttempts,
		concurrency: 1,
		blobPrefix:  DefaultBlobPrefix,
		now:         time.Now,
		newID:       uuid.NewString,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type execution struct {
	raw *models.QueryResult
	err error
}

// Run executes queries in order against datasetID and indexes everything that was
// persisted. Per-query failures are recorded in the result and skipped. Failing to
// prepare the index, to obtain a credential, or to upload the final batch aborts
// the run with an error.
func (o *Orchestrator) Run(ctx context.Context, datasetID string, queries models.QuerySet) (*models.PipelineRunResult, error) {
	result := models.NewPipelineRunResult(o.newID(), datasetID, queries.Names(), o.now())
	log := o.logger.With(zap.String("run_id", result.RunID), zap.String("dataset_id", datasetID))
	log.Info("pipeline started", zap.Int("queries", len(queries)))

	if _, err := o.indexer.EnsureIndex(ctx); err != nil {
		return nil, o.abort(ctx, log, result, fmt.Errorf("ensure index: %w", err))
	}

	execs, err := o.executeAll(ctx, datasetID, queries)
	if err != nil {
		return nil, o.abort(ctx, log, result, err)
	}

	var batch []models.NamedRowSet
	for i, q := range queries {
		qlog := log.With(zap.String("query", q.Name))
		ex := execs[i]
		if ex.err != nil {
			qlog.Warn("query failed, skipping", zap.Error(ex.err))
			o.skip(result, q.Name, ex.err.Error())
			continue
		}
		rs := powerbi.Normalize(ex.raw)
		if rs == nil {
			qlog.Info("query returned no rows, skipping")
			o.skip(result, q.Name, "no rows returned")
			continue
		}
		result.ExtractedData[q.Name] = ex.raw

		blobName := columnar.BlobName(o.blobPrefix, q.Name, o.now())
		if _, err := o.persister.Persist(ctx, rs, blobName); err != nil {
			qlog.Warn("persisting rows failed, skipping", zap.String("blob", blobName), zap.Error(err))
			o.skip(result, q.Name, err.Error())
			continue
		}
		result.ProcessedData[q.Name] = rs
		result.Blobs[q.Name] = blobName
		result.ExtractedRecords += rs.Len()
		batch = append(batch, models.NamedRowSet{Name: q.Name, RowSet: rs})
		qlog.Info("query persisted", zap.String("blob", blobName), zap.Int("rows", rs.Len()))
	}

	if len(batch) > 0 {
		if _, err := o.indexer.IndexBatch(ctx, batch); err != nil {
			return nil, o.abort(ctx, log, result, fmt.Errorf("index batch: %w", err))
		}
		result.IndexedDocuments = len(batch)
		result.Status = models.RunCompleted
		result.Message = fmt.Sprintf("Indexed %d of %d queries", len(batch), len(queries))
	} else {
		result.Status = models.RunFailed
		result.Message = "No data extracted"
	}

	o.finish(ctx, result)
	for range batch {
		o.metrics.ObserveQuery(models.OutcomeIndexed)
	}
	o.metrics.AddExtractedRows(result.ExtractedRecords)
	o.metrics.AddIndexedDocuments(result.IndexedDocuments)
	log.Info("pipeline finished",
		zap.String("status", string(result.Status)),
		zap.Int("records", result.ExtractedRecords),
		zap.Int("documents", result.IndexedDocuments),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))
	return result, nil
}

// executeAll runs every query and returns the outcomes in input order. Only a
// credential failure or cancellation is returned as an error.
func (o *Orchestrator) executeAll(ctx context.Context, datasetID string, queries models.QuerySet) ([]execution, error) {
	execs := make([]execution, len(queries))
	if o.concurrency <= 1 {
		for i, q := range queries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			raw, err := o.execute(ctx, datasetID, q)
			if isFatal(err) {
				return nil, err
			}
			execs[i] = execution{raw: raw, err: err}
		}
		return execs, ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, q := range queries {
		g.Go(func() error {
			raw, err := o.execute(gctx, datasetID, q)
			if isFatal(err) {
				return err
			}
			execs[i] = execution{raw: raw, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return execs, ctx.Err()
}

// execute runs q with the current credential. A rejected credential is discarded and
// the query is tried once more with a fresh one.
func (o *Orchestrator) execute(ctx context.Context, datasetID string, q models.Query) (*models.QueryResult, error) {
	cred, err := o.creds.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire credential: %w", err)
	}
	raw, err := o.executor.Execute(ctx, datasetID, q.Expression, cred, o.maxAttempts)
	if !errors.Is(err, powerbi.ErrUnauthorized) {
		return raw, err
	}

	o.logger.Info("credential rejected, refreshing", zap.String("query", q.Name))
	o.creds.Invalidate(cred.Token)
	cred, err = o.creds.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire credential: %w", err)
	}
	return o.executor.Execute(ctx, datasetID, q.Expression, cred, o.maxAttempts)
}

// isFatal reports whether err means no further query can succeed.
func isFatal(err error) bool {
	var authErr *auth.AuthenticationError
	return errors.As(err, &authErr)
}

func (o *Orchestrator) skip(result *models.PipelineRunResult, name, reason string) {
	result.Skipped[name] = reason
	o.metrics.ObserveQuery(models.OutcomeSkipped)
}

func (o *Orchestrator) abort(ctx context.Context, log *zap.Logger, result *models.PipelineRunResult, err error) error {
	result.Status = models.RunFailed
	result.Message = err.Error()
	o.finish(ctx, result)
	log.Error("pipeline aborted", zap.Error(err))
	return err
}

func (o *Orchestrator) finish(ctx context.Context, result *models.PipelineRunResult) {
	result.FinishedAt = o.now()
	o.metrics.ObserveRun(string(result.Status), result.FinishedAt.Sub(result.StartedAt))
	if o.recorder == nil {
		return
	}
	if err := o.recorder.SaveRun(context.WithoutCancel(ctx), result); err != nil {
		o.logger.Warn("failed to record run", zap.String("run_id", result.RunID), zap.Error(err))
	}
}
