package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Brandon-orbit/PSA-daisy/internal/auth"
	"github.com/Brandon-orbit/PSA-daisy/internal/backoff"
	"github.com/Brandon-orbit/PSA-daisy/internal/blob"
	"github.com/Brandon-orbit/PSA-daisy/internal/columnar"
	"github.com/Brandon-orbit/PSA-daisy/internal/config"
	"github.com/Brandon-orbit/PSA-daisy/internal/metrics"
	"github.com/Brandon-orbit/PSA-daisy/internal/pipeline"
	"github.com/Brandon-orbit/PSA-daisy/internal/powerbi"
	"github.com/Brandon-orbit/PSA-daisy/internal/relay"
	"github.com/Brandon-orbit/PSA-daisy/internal/search"
	"github.com/Brandon-orbit/PSA-daisy/internal/server"
	"github.com/Brandon-orbit/PSA-daisy/internal/storage"
)

// Components holds initialized services.
type Components struct {
	Metrics  *metrics.Metrics
	Tokens   *auth.TokenProvider
	Client   *powerbi.Client
	Uploader blob.Uploader
	Index    search.Index
	Indexer  *search.Indexer
	Runs     *storage.SQLiteStorage
	Pipeline *pipeline.Orchestrator
	Relay    *relay.Relay
}

// Close releases storage handles.
func (c *Components) Close() {
	if c.Runs != nil {
		_ = c.Runs.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Uploader != nil {
		_ = c.Uploader.Close()
	}
}

// Deps exposes the components to the HTTP server.
func (c *Components) Deps() server.Deps {
	deps := server.Deps{
		Pipeline:    c.Pipeline,
		Searcher:    c.Indexer,
		Datasets:    c.Client,
		Credentials: c.Tokens,
		Chat:        c.Relay,
		Metrics:     c.Metrics,
	}
	if c.Runs != nil {
		deps.Runs = c.Runs
	}
	if u, ok := c.Uploader.(server.UsageReporter); ok {
		deps.Usage = u
	}
	return deps
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{Metrics: metrics.New()}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Tokens = auth.NewTokenProvider(auth.ClientCredentials{
		TenantID:     cfg.PowerBI.TenantID,
		ClientID:     cfg.PowerBI.ClientID,
		ClientSecret: cfg.PowerBI.ClientSecret,
		Scope:        cfg.PowerBI.Scope,
		AuthorityURL: cfg.PowerBI.AuthorityURL,
	}, auth.WithLogger(logger))

	policy, err := backoff.FromConfig(cfg.PowerBI.Backoff)
	if err != nil {
		return nil, fmt.Errorf("invalid backoff: %w", err)
	}
	clientOpts := []powerbi.Option{
		powerbi.WithBaseURL(cfg.PowerBI.BaseURL),
		powerbi.WithBackoff(policy),
		powerbi.WithIncludeNulls(cfg.PowerBI.IncludeNullsOrDefault()),
		powerbi.WithLogger(logger),
		powerbi.WithMetrics(c.Metrics),
	}
	if cfg.PowerBI.RateLimit > 0 {
		clientOpts = append(clientOpts, powerbi.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.PowerBI.RateLimit), cfg.PowerBI.RateBurst)))
	}
	c.Client = powerbi.NewClient(cfg.PowerBI.WorkspaceID, clientOpts...)

	c.Uploader, err = blob.New(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob storage: %w", err)
	}
	writerOpts := []columnar.Option{columnar.WithLogger(logger)}
	if cfg.Pipeline.TempDir != "" {
		writerOpts = append(writerOpts, columnar.WithTempDir(cfg.Pipeline.TempDir))
	}
	writer := columnar.NewWriter(c.Uploader, writerOpts...)

	c.Index, err = search.New(cfg.Search, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize search index: %w", err)
	}
	c.Indexer = search.NewIndexer(c.Index, search.WithSource(cfg.Search.Source), search.WithLogger(logger))

	pipelineOpts := []pipeline.Option{
		pipeline.WithMaxAttempts(cfg.Pipeline.MaxAttempts),
		pipeline.WithConcurrency(cfg.Pipeline.Concurrency),
		pipeline.WithBlobPrefix(cfg.Pipeline.BlobPrefix),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(c.Metrics),
	}
	if !cfg.History.Disabled {
		c.Runs, err = storage.NewSQLiteStorage(cfg.History.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize run history: %w", err)
		}
		pipelineOpts = append(pipelineOpts, pipeline.WithRecorder(c.Runs))
	}
	c.Pipeline = pipeline.New(c.Tokens, c.Client, writer, c.Indexer, pipelineOpts...)

	c.Relay = relay.New(cfg.Chat.UpstreamURL,
		relay.WithChunkSize(cfg.Chat.ChunkSize),
		relay.WithLogger(logger),
		relay.WithMetrics(c.Metrics))

	return c, nil
}
