package config

import (
	"time"

	"github.com/Brandon-orbit/PSA-daisy/internal/backoff"
	"github.com/Brandon-orbit/PSA-daisy/internal/blob"
	"github.com/Brandon-orbit/PSA-daisy/internal/pipeline"
	"github.com/Brandon-orbit/PSA-daisy/internal/powerbi"
	"github.com/Brandon-orbit/PSA-daisy/internal/search"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 10 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.PowerBI.BaseURL == "" {
		cfg.PowerBI.BaseURL = powerbi.DefaultBaseURL
	}
	if cfg.PowerBI.Backoff.Interval == 0 {
		cfg.PowerBI.Backoff.Interval = backoff.DefaultInterval
	}
	if cfg.PowerBI.RateLimit > 0 && cfg.PowerBI.RateBurst == 0 {
		cfg.PowerBI.RateBurst = 1
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = string(blob.BackendAzure)
	}
	if cfg.Storage.Container == "" {
		cfg.Storage.Container = "powerbi-rag-data"
	}
	if cfg.Search.Backend == "" {
		cfg.Search.Backend = string(search.BackendAzure)
	}
	if cfg.Search.IndexName == "" {
		cfg.Search.IndexName = "powerbi-rag-index"
	}
	if cfg.Search.Source == "" {
		cfg.Search.Source = search.DefaultSource
	}
	if cfg.Pipeline.BlobPrefix == "" {
		cfg.Pipeline.BlobPrefix = pipeline.DefaultBlobPrefix
	}
	if cfg.Pipeline.MaxAttempts == 0 {
		cfg.Pipeline.MaxAttempts = powerbi.DefaultMaxAttempts
	}
	if cfg.Pipeline.Concurrency == 0 {
		cfg.Pipeline.Concurrency = 1
	}
	if cfg.History.DatabasePath == "" {
		cfg.History.DatabasePath = ".daisy/runs.db"
	}
}
