package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Brandon-orbit/PSA-daisy/internal/models"
	"github.com/Brandon-orbit/PSA-daisy/internal/storage"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// ExtractRequest is the body of the extract-and-index endpoint.
type ExtractRequest struct {
	DatasetID  string          `json:"datasetId"`
	DAXQueries models.QuerySet `json:"daxQueries"`
}

// RunList is a page of run history.
type RunList struct {
	Runs   []*models.RunRecord `json:"runs"`
	Total  int64               `json:"total"`
	Offset int                 `json:"offset"`
	Limit  int                 `json:"limit"`
}

func (s *Server) handleExtractAndIndex(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil {
		s.respondDetail(w, http.StatusNotImplemented, "pipeline not configured")
		return
	}
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.DatasetID == "" {
		s.respondDetail(w, http.StatusBadRequest, "datasetId is required")
		return
	}
	if len(req.DAXQueries) == 0 {
		s.respondDetail(w, http.StatusBadRequest, "daxQueries must contain at least one query")
		return
	}
	s.logger.Info("extract-and-index request",
		zap.String("dataset_id", req.DatasetID),
		zap.Strings("queries", req.DAXQueries.Names()))

	result, err := s.deps.Pipeline.Run(r.Context(), req.DatasetID, req.DAXQueries)
	if err != nil {
		s.logger.Error("pipeline failed", zap.String("dataset_id", req.DatasetID), zap.Error(err))
		s.respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		s.respondError(w, http.StatusNotImplemented, "chat not enabled")
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.deps.Chat.ServeHTTP(w, r)
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	if s.deps.Datasets == nil || s.deps.Credentials == nil {
		s.respondError(w, http.StatusNotImplemented, "dataset listing not configured")
		return
	}
	cred, err := s.deps.Credentials.Acquire(r.Context())
	if err != nil {
		s.logger.Error("datasets: acquire credential failed", zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	workspaceID := chi.URLParam(r, "workspaceID")
	datasets, err := s.deps.Datasets.ListWorkspaceDatasets(r.Context(), workspaceID, cred)
	if err != nil {
		s.logger.Error("datasets: list failed", zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if datasets == nil {
		datasets = []models.Dataset{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"datasets": datasets})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Searcher == nil {
		s.respondError(w, http.StatusNotImplemented, "search not configured")
		return
	}
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := query.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("top", query.Top))
	response, err := s.deps.Searcher.Search(r.Context(), query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.respondError(w, http.StatusNotImplemented, "run history not enabled")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := queryInt(r, "limit", defaultRunsLimit)
	if err != nil || limit <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}
	ctx := r.Context()
	runs, err := s.deps.Runs.ListRuns(ctx, offset, limit)
	if err != nil {
		s.logger.Error("runs: list failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.deps.Runs.CountRuns(ctx)
	if err != nil {
		s.logger.Error("runs: count failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*models.RunRecord{}
	}
	s.respondJSON(w, http.StatusOK, RunList{Runs: runs, Total: total, Offset: offset, Limit: limit})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.respondError(w, http.StatusNotImplemented, "run history not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	run, err := s.deps.Runs.GetRun(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("runs: get failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "healthy", "service": ServiceName}
	if s.deps.Usage != nil {
		if n, err := s.deps.Usage.Usage(); err == nil {
			resp["disk_usage_bytes"] = n
		} else {
			s.logger.Warn("health: disk usage failed", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) respondDetail(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"detail": message})
}
