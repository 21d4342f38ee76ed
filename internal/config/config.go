// Package config provides configuration loading and structs for the daisy server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Brandon-orbit/PSA-daisy/internal/backoff"
	"github.com/Brandon-orbit/PSA-daisy/internal/blob"
	"github.com/Brandon-orbit/PSA-daisy/internal/search"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	PowerBI  PowerBIConfig  `yaml:"powerbi"`
	Storage  blob.Config    `yaml:"storage"`
	Search   search.Config  `yaml:"search"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	History  HistoryConfig  `yaml:"history"`
	Chat     ChatConfig     `yaml:"chat"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// CORSOrigins are the browser origins allowed on the chat route.
	CORSOrigins []string `yaml:"cors_origins"`
}

// PowerBIConfig holds the service principal and workspace used for extraction.
type PowerBIConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	WorkspaceID  string `yaml:"workspace_id"`
	AuthorityURL string `yaml:"authority_url"`
	Scope        string `yaml:"scope"`
	BaseURL      string `yaml:"base_url"`
	IncludeNulls *bool  `yaml:"include_nulls"`
	// RateLimit is the maximum requests per second to the reporting service; 0 disables limiting.
	RateLimit float64        `yaml:"rate_limit"`
	RateBurst int            `yaml:"rate_burst"`
	Backoff   backoff.Config `yaml:"backoff"`
}

// IncludeNullsOrDefault returns whether nulls are requested; defaults to true when unset.
func (p *PowerBIConfig) IncludeNullsOrDefault() bool {
	if p.IncludeNulls != nil {
		return *p.IncludeNulls
	}
	return true
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	BlobPrefix  string `yaml:"blob_prefix"`
	MaxAttempts int    `yaml:"max_attempts"`
	Concurrency int    `yaml:"concurrency"`
	TempDir     string `yaml:"temp_dir"`
}

// HistoryConfig holds the run history database location. Disabled turns recording off.
type HistoryConfig struct {
	DatabasePath string `yaml:"database_path"`
	Disabled     bool   `yaml:"disabled"`
}

// ChatConfig holds the chat relay settings.
type ChatConfig struct {
	UpstreamURL string `yaml:"upstream_url"`
	ChunkSize   int    `yaml:"chunk_size"`
}

// Load reads the config file at path, expands ${VAR} references, applies environment
// overrides and defaults, and expands paths. An empty path loads from the environment only.
func Load(path string) (*Config, error) {
	var cfg Config
	configDir := "."
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvRefs(string(data), os.LookupEnv)), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		configDir = filepath.Dir(path)
	}

	ApplyEnv(&cfg, os.LookupEnv)
	ApplyDefaults(&cfg)

	cfg.History.DatabasePath = expandPath(cfg.History.DatabasePath, configDir)
	if cfg.Storage.Disk.Dir != "" {
		cfg.Storage.Disk.Dir = expandPath(cfg.Storage.Disk.Dir, configDir)
	}
	if cfg.Search.Bleve.Path != "" {
		cfg.Search.Bleve.Path = expandPath(cfg.Search.Bleve.Path, configDir)
	}
	if cfg.Storage.GCS.CredentialsFile != "" {
		cfg.Storage.GCS.CredentialsFile = expandPath(cfg.Storage.GCS.CredentialsFile, configDir)
	}

	return &cfg, nil
}

// expandEnvRefs replaces ${VAR} references using lookup. Unset variables expand to "".
// A bare $ is kept as written, so secrets containing $ survive.
func expandEnvRefs(s string, lookup func(string) (string, bool)) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start+2:], '}')
		if end < 0 {
			break
		}
		b.WriteString(s[:start])
		v, _ := lookup(s[start+2 : start+2+end])
		b.WriteString(v)
		s = s[start+2+end+1:]
	}
	b.WriteString(s)
	return b.String()
}

// ApplyEnv overrides cfg with the well-known environment variables that are set.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("CLIENT_ID", &cfg.PowerBI.ClientID)
	set("CLIENT_SECRET", &cfg.PowerBI.ClientSecret)
	set("TENANT_ID", &cfg.PowerBI.TenantID)
	set("WORKSPACE_ID", &cfg.PowerBI.WorkspaceID)
	set("STORAGE_ACCOUNT_NAME", &cfg.Storage.Azure.AccountName)
	set("STORAGE_ACCOUNT_KEY", &cfg.Storage.Azure.AccountKey)
	set("STORAGE_CONTAINER", &cfg.Storage.Container)
	set("SEARCH_SERVICE_NAME", &cfg.Search.Azure.ServiceName)
	set("SEARCH_ADMIN_KEY", &cfg.Search.Azure.AdminKey)
	set("SEARCH_INDEX_NAME", &cfg.Search.IndexName)
	set("CHAT_UPSTREAM_URL", &cfg.Chat.UpstreamURL)
}

// Validate reports every missing value the extraction pipeline needs. The chat
// upstream is not checked; an unset relay fails on first use.
func (c *Config) Validate() error {
	var errs []error
	missing := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	missing("powerbi.tenant_id (TENANT_ID)", c.PowerBI.TenantID)
	missing("powerbi.client_id (CLIENT_ID)", c.PowerBI.ClientID)
	missing("powerbi.client_secret (CLIENT_SECRET)", c.PowerBI.ClientSecret)
	missing("powerbi.workspace_id (WORKSPACE_ID)", c.PowerBI.WorkspaceID)

	switch blob.Backend(c.Storage.Backend) {
	case blob.BackendAzure:
		missing("storage.container (STORAGE_CONTAINER)", c.Storage.Container)
		if c.Storage.Azure.ConnectionString == "" {
			missing("storage.azure.account_name (STORAGE_ACCOUNT_NAME)", c.Storage.Azure.AccountName)
			missing("storage.azure.account_key (STORAGE_ACCOUNT_KEY)", c.Storage.Azure.AccountKey)
		}
	case blob.BackendS3, blob.BackendGCS:
		missing("storage.container", c.Storage.Container)
	case blob.BackendDisk:
		missing("storage.disk.dir", c.Storage.Disk.Dir)
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend: %s", c.Storage.Backend))
	}

	switch search.Backend(c.Search.Backend) {
	case search.BackendAzure:
		missing("search.index_name (SEARCH_INDEX_NAME)", c.Search.IndexName)
		if c.Search.Azure.Endpoint == "" {
			missing("search.azure.service_name (SEARCH_SERVICE_NAME)", c.Search.Azure.ServiceName)
		}
		missing("search.azure.admin_key (SEARCH_ADMIN_KEY)", c.Search.Azure.AdminKey)
	case search.BackendBleve:
	default:
		errs = append(errs, fmt.Errorf("unknown search backend: %s", c.Search.Backend))
	}

	if c.Pipeline.MaxAttempts < 1 {
		errs = append(errs, errors.New("pipeline.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0600)
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
