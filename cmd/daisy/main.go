// Package main is the daisy CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/Brandon-orbit/PSA-daisy/internal/cli"
	"github.com/Brandon-orbit/PSA-daisy/internal/config"
	"github.com/Brandon-orbit/PSA-daisy/internal/models"
	"github.com/Brandon-orbit/PSA-daisy/internal/server"
	"github.com/Brandon-orbit/PSA-daisy/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/daisy/config.yaml"
	defaultServerURL  = "http://localhost:8000"
)

// loadConfig loads config from path. When path is the default and does not exist, it
// looks for config.yaml in the current directory, then falls back to the environment alone.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); err != nil {
			path = ""
			if cwd, cwdErr := os.Getwd(); cwdErr == nil {
				fallback := filepath.Join(cwd, "config.yaml")
				if _, statErr := os.Stat(fallback); statErr == nil {
					path = fallback
				}
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "extract":
		runExtract()
	case "datasets":
		runDatasets()
	case "search":
		runSearch()
	case "runs":
		runRuns()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("daisy version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, string) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration:\n%v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || debugFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, logger, resolved
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, resolved := setup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolved),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("search_backend", cfg.Search.Backend),
		zap.Bool("chat_enabled", cfg.Chat.UpstreamURL != ""),
	)

	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	srv := server.NewServer(components.Deps(), &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}

// queryFlags collects repeated -q name=EXPRESSION flags in order.
type queryFlags models.QuerySet

func (q *queryFlags) String() string {
	return strings.Join(models.QuerySet(*q).Names(), ",")
}

func (q *queryFlags) Set(v string) error {
	name, expr, ok := strings.Cut(v, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.TrimSpace(expr) == "" {
		return fmt.Errorf("expected name=EXPRESSION, got %q", v)
	}
	for _, existing := range *q {
		if existing.Name == name {
			return fmt.Errorf("duplicate query name %q", name)
		}
	}
	*q = append(*q, models.Query{Name: name, Expression: expr})
	return nil
}

// buildQuerySet merges the queries file (a JSON object of name to expression) with -q flags.
func buildQuerySet(file string, inline queryFlags) (models.QuerySet, error) {
	var qs models.QuerySet
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read queries: %w", err)
		}
		if err := json.Unmarshal(data, &qs); err != nil {
			return nil, fmt.Errorf("parse queries: %w", err)
		}
	}
	for _, q := range inline {
		for _, existing := range qs {
			if existing.Name == q.Name {
				return nil, fmt.Errorf("duplicate query name %q", q.Name)
			}
		}
		qs = append(qs, q)
	}
	return qs, nil
}

func runExtract() {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (in-process mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = run the pipeline in-process)")
	dataset := fs.String("dataset", "", "dataset id")
	queriesFile := fs.String("queries", "", "JSON file mapping query names to DAX expressions")
	outputFormat := fs.String("output", "text", "output format: text or json")
	var inline queryFlags
	fs.Var(&inline, "q", "query as name=EXPRESSION (repeatable)")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *dataset == "" {
		fmt.Println("Usage: daisy extract --dataset <id> (--queries file.json | -q name=EXPR ...)")
		os.Exit(1)
	}
	queries, err := buildQuerySet(*queriesFile, inline)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(queries) == 0 {
		fmt.Fprintln(os.Stderr, "at least one query is required")
		os.Exit(1)
	}

	var result *models.PipelineRunResult
	if *serverURL != "" {
		req := server.ExtractRequest{DatasetID: *dataset, DAXQueries: queries}
		result = &models.PipelineRunResult{}
		if err := callAPI(http.MethodPost, *serverURL, "/api/v1/extract-and-index", req, result); err != nil {
			fmt.Fprintf(os.Stderr, "Extract failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, logger, _ := setup(*configPath, false)
		defer logger.Sync()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		components, err := initializeComponents(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()
		result, err = components.Pipeline.Run(ctx, *dataset, queries)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Extract failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteRunResult(os.Stdout, result, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runDatasets() {
	fs := flag.NewFlagSet("datasets", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	workspace := fs.String("workspace", "", "workspace id (default: the server's configured workspace)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var out struct {
		Datasets []models.Dataset `json:"datasets"`
	}
	if err := callAPI(http.MethodGet, *serverURL, datasetsPath(*workspace), nil, &out); err != nil {
		fmt.Fprintf(os.Stderr, "List datasets failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteDatasets(os.Stdout, out.Datasets, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func datasetsPath(workspaceID string) string {
	if workspaceID == "" {
		return "/api/v1/datasets"
	}
	return "/api/v1/datasets/" + url.PathEscape(workspaceID)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after positional
// arguments to the front so that flag.Parse() sees them.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	top := fs.Int("top", 10, "number of results")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		fmt.Println("Usage: daisy search [flags] <query>")
		os.Exit(1)
	}
	var response models.SearchResponse
	req := models.SearchQuery{Query: queryStr, Top: *top}
	if err := callAPI(http.MethodPost, *serverURL, "/api/v1/search", req, &response); err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, &response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runRuns() {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	limit := fs.Int("limit", 20, "number of runs")
	offset := fs.Int("offset", 0, "runs to skip")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		var run models.RunRecord
		if err := callAPI(http.MethodGet, *serverURL, "/api/v1/runs/"+url.PathEscape(fs.Arg(0)), nil, &run); err != nil {
			fmt.Fprintf(os.Stderr, "Get run failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteRun(os.Stdout, &run, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	var list server.RunList
	path := "/api/v1/runs?limit=" + strconv.Itoa(*limit) + "&offset=" + strconv.Itoa(*offset)
	if err := callAPI(http.MethodGet, *serverURL, path, nil, &list); err != nil {
		fmt.Fprintf(os.Stderr, "List runs failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteRuns(os.Stdout, list.Runs, list.Total, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	out := fs.String("output", "config.yaml", "where to write the config")
	_ = fs.Parse(os.Args[2:])

	if _, err := os.Stat(*out); err == nil {
		fmt.Fprintf(os.Stderr, "%s already exists\n", *out)
		os.Exit(1)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.PowerBI.TenantID = "${TENANT_ID}"
	cfg.PowerBI.ClientID = "${CLIENT_ID}"
	cfg.PowerBI.ClientSecret = "${CLIENT_SECRET}"
	cfg.PowerBI.WorkspaceID = "${WORKSPACE_ID}"
	cfg.Storage.Azure.AccountName = "${STORAGE_ACCOUNT_NAME}"
	cfg.Storage.Azure.AccountKey = "${STORAGE_ACCOUNT_KEY}"
	cfg.Search.Azure.ServiceName = "${SEARCH_SERVICE_NAME}"
	cfg.Search.Azure.AdminKey = "${SEARCH_ADMIN_KEY}"
	cfg.Chat.UpstreamURL = "${CHAT_UPSTREAM_URL}"
	if err := config.Save(*out, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Write config failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", *out)
}

var apiClient = &http.Client{}

// callAPI sends body as JSON (when non-nil) and decodes a 200 response into out.
// Error bodies of the form {"error": ...} or {"detail": ...} become the returned message.
func callAPI(method, serverURL, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, errorMessage(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Detail != "" {
			return e.Detail
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return strings.TrimSpace(string(body))
}

func printUsage() {
	fmt.Println(`daisy - Power BI extraction to parquet and search index, plus chat relay

Usage:
  daisy server [flags]             Start the HTTP server
  daisy extract [flags]            Run the extract-and-index pipeline
  daisy datasets [flags]           List datasets in the workspace
  daisy search [flags] <query>     Search indexed query results
  daisy runs [flags] [run-id]      Show pipeline run history
  daisy init [--output path]       Write a starter config file
  daisy version                    Show version
  daisy help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/daisy/config.yaml, then ./config.yaml)
  --debug            Enable debug logging

Extract Flags:
  --dataset string   Dataset id (required)
  --queries string   JSON file mapping query names to DAX expressions
  -q name=EXPR       Inline query (repeatable; order is kept)
  --server string    Server URL (default: http://localhost:8000). Use --server "" to run in-process.
  --config string    Config file path (in-process mode)
  --output string    Output format: text or json (default: text)

Search / Datasets / Runs Flags:
  --server string    Server URL (default: http://localhost:8000)
  --output string    Output format: text or json (default: text)
  --top int          Number of search results (default: 10)
  --workspace string Workspace to list datasets from (default: the server's workspace)
  --limit, --offset  Run history paging

Examples:
  daisy server
  daisy extract --dataset 1a2b -q "sales=EVALUATE 'Sales'"
  daisy extract --dataset 1a2b --queries queries.json --output json
  daisy search north region sales
  daisy runs --limit 5
  daisy runs 6f1c2e9a-...`)
}
