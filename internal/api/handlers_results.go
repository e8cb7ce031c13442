package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"reportd/internal/core"
	"reportd/internal/store"
)

type resultResponse struct {
	ID                string            `json:"id"`
	ReportID          string            `json:"report_id"`
	Content           string            `json:"content"`
	ResponseTimeMs    int64             `json:"response_time_ms"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	VisualizationData *string           `json:"visualization_data,omitempty"`
	CreatedAt         string            `json:"created_at"`
}

type visualizationResponse struct {
	ResultID string          `json:"result_id"`
	Data     json.RawMessage `json:"data"`
}

type attachVisualizationRequest struct {
	Data json.RawMessage `json:"data"`
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	resultID := chi.URLParam(r, "resultID")
	result, err := s.store.GetResult(r.Context(), resultID)
	if err != nil {
		if errors.Is(err, store.ErrResultNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "result not found")
		} else {
			s.logger.Error("get result", "result_id", resultID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load result")
		}
		return
	}
	writeJSON(w, http.StatusOK, resultToResponse(result))
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	report, ok := s.loadOwnedReport(w, r)
	if !ok {
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	results, err := s.store.ListResults(r.Context(), report.ID, limit, offset)
	if err != nil {
		s.logger.Error("list results", "report_id", report.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list results")
		return
	}
	resp := make([]resultResponse, 0, len(results))
	for _, result := range results {
		resp = append(resp, resultToResponse(result))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetVisualization returns the artifact attached to a result.
// With ?wait=1 the request polls through the visualization poller,
// giving the asynchronous generation step a bounded window to finish;
// closing the connection cancels the poll.
func (s *Server) handleGetVisualization(w http.ResponseWriter, r *http.Request) {
	resultID := chi.URLParam(r, "resultID")
	wait := strings.EqualFold(r.URL.Query().Get("wait"), "1") || strings.EqualFold(r.URL.Query().Get("wait"), "true")

	var artifact *core.VisualizationArtifact
	var err error
	if wait {
		artifact, err = s.poller.Await(r.Context(), resultID)
	} else {
		artifact, err = s.store.GetVisualization(r.Context(), resultID)
	}
	if err != nil {
		if errors.Is(err, store.ErrResultNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "result not found")
		} else {
			s.logger.Error("get visualization", "result_id", resultID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load visualization")
		}
		return
	}
	if artifact == nil {
		writeError(w, http.StatusNotFound, "not_ready", "no visualization available for this result")
		return
	}
	writeJSON(w, http.StatusOK, visualizationResponse{
		ResultID: artifact.ResultID,
		Data:     json.RawMessage(artifact.Data),
	})
}

// handleAttachVisualization is the write-back endpoint the
// visualization generation service calls once an artifact is ready.
func (s *Server) handleAttachVisualization(w http.ResponseWriter, r *http.Request) {
	resultID := chi.URLParam(r, "resultID")
	var req attachVisualizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "data is required")
		return
	}
	if err := s.store.SetVisualization(r.Context(), resultID, string(req.Data)); err != nil {
		if errors.Is(err, store.ErrResultNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "result not found")
		} else {
			s.logger.Error("attach visualization", "result_id", resultID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to store visualization")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.MetricCounts(r.Context())
	if err != nil {
		s.logger.Error("metric counts", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load metrics")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func resultToResponse(result *core.ExecutionResult) resultResponse {
	return resultResponse{
		ID:                result.ID,
		ReportID:          result.ReportID,
		Content:           result.Content,
		ResponseTimeMs:    result.ResponseTimeMs,
		Metadata:          result.Metadata,
		VisualizationData: result.VisualizationData,
		CreatedAt:         result.CreatedAt.UTC().Format(time.RFC3339),
	}
}
