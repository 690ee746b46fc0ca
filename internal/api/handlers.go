// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/models"
	enginesync "github.com/vitalsync/vitalsync/internal/sync"
)

// maxRequestBytes bounds control-request bodies.
const maxRequestBytes = 1 << 20

// writeJSON encodes data as JSON and writes it with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps an error to a status code and writes the error body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, enginesync.ErrSyncNotFound):
		status = http.StatusNotFound
	case strings.Contains(err.Error(), "is not running"),
		strings.Contains(err.Error(), "is not paused"),
		strings.Contains(err.Error(), "already running"):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// createSyncRequest is the POST /api/v1/syncs body. Omitted tuning fields
// fall back to the server's configured sync defaults.
type createSyncRequest struct {
	UserID        string   `json:"user_id"`
	StartDate     string   `json:"start_date"`
	EndDate       string   `json:"end_date"`
	Metrics       []string `json:"metrics"`
	BatchSize     int      `json:"batch_size"`
	RetryAttempts int      `json:"retry_attempts"`
	RetryDelay    string   `json:"retry_delay"`
	Backoff       string   `json:"backoff"`
	OldestFirst   bool     `json:"oldest_first"`
	Resume        bool     `json:"resume"`
}

type createSyncResponse struct {
	SyncID string `json:"sync_id"`
}

func (s *Server) handleCreateSync(w http.ResponseWriter, r *http.Request) {
	var req createSyncRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	cfg, err := s.buildSyncConfig(req)
	if err != nil {
		writeError(w, err)
		return
	}

	syncID, err := s.engine.Start(r.Context(), cfg, req.Resume)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, createSyncResponse{SyncID: syncID})
}

// buildSyncConfig translates the wire request into a run configuration,
// filling omitted fields from server defaults.
func (s *Server) buildSyncConfig(req createSyncRequest) (models.SyncConfig, error) {
	var cfg models.SyncConfig

	start, err := models.ParseDate(req.StartDate)
	if err != nil {
		return cfg, errors.Join(models.ErrInvalidConfig, err)
	}
	end, err := models.ParseDate(req.EndDate)
	if err != nil {
		return cfg, errors.Join(models.ErrInvalidConfig, err)
	}

	metrics := req.Metrics
	if len(metrics) == 0 {
		metrics = s.defaults.Metrics
	}
	retryDelay := s.defaults.RetryDelay
	if req.RetryDelay != "" {
		retryDelay, err = time.ParseDuration(req.RetryDelay)
		if err != nil {
			return cfg, errors.Join(models.ErrInvalidConfig, err)
		}
	}
	backoff := s.defaults.Backoff
	if req.Backoff != "" {
		backoff = req.Backoff
	}
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = s.defaults.BatchSize
	}
	retryAttempts := req.RetryAttempts
	if retryAttempts == 0 {
		retryAttempts = s.defaults.RetryAttempts
	}

	return models.SyncConfig{
		UserID:        req.UserID,
		StartDate:     start,
		EndDate:       end,
		Metrics:       metrics,
		BatchSize:     batchSize,
		RetryAttempts: retryAttempts,
		RetryDelay:    retryDelay,
		Backoff:       models.BackoffMode(backoff),
		OldestFirst:   req.OldestFirst || s.defaults.OldestFirst,
	}, nil
}

func (s *Server) handleListSyncs(w http.ResponseWriter, _ *http.Request) {
	active := s.engine.ListActive()
	writeJSON(w, http.StatusOK, map[string]any{
		"syncs": active,
		"count": len(active),
	})
}

func (s *Server) handleGetSync(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Progress(r.Context(), chi.URLParam(r, "syncID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePauseSync(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.engine.Pause, "paused")
}

func (s *Server) handleResumeSync(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.engine.Resume, "resumed")
}

func (s *Server) handleStopSync(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.engine.Stop, "stopped")
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, op func(string) error, verb string) {
	syncID := chi.URLParam(r, "syncID")
	if err := op(syncID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"sync_id": syncID,
		"status":  verb,
	})
}

func (s *Server) handleEfficiency(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID := q.Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
		return
	}
	start, err := models.ParseDate(q.Get("start_date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	end, err := models.ParseDate(q.Get("end_date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	metrics := s.defaults.Metrics
	if raw := q.Get("metrics"); raw != "" {
		metrics = strings.Split(raw, ",")
	}

	report, err := s.engine.EfficiencyStats(r.Context(), userID, metrics, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_syncs": len(s.engine.ListActive()),
	})
}
