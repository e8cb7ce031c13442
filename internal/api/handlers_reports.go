package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"reportd/internal/core"
	"reportd/internal/store"
)

type createReportRequest struct {
	Title             string  `json:"title"`
	Prompt            string  `json:"prompt"`
	ScheduleType      string  `json:"schedule_type"`
	ScheduleFrequency *string `json:"schedule_frequency"`
	ScheduleTime      *string `json:"schedule_time"`
	ScheduleDay       *int    `json:"schedule_day"`
	IsActive          *bool   `json:"is_active"`
}

type updateReportRequest struct {
	Title             *string `json:"title"`
	Prompt            *string `json:"prompt"`
	ScheduleType      *string `json:"schedule_type"`
	ScheduleFrequency *string `json:"schedule_frequency"`
	ScheduleTime      *string `json:"schedule_time"`
	ScheduleDay       *int    `json:"schedule_day"`
	IsActive          *bool   `json:"is_active"`
}

type reportResponse struct {
	ID                string  `json:"id"`
	OwnerID           string  `json:"owner_id"`
	Title             string  `json:"title"`
	Prompt            string  `json:"prompt"`
	ScheduleType      string  `json:"schedule_type"`
	ScheduleFrequency string  `json:"schedule_frequency,omitempty"`
	ScheduleTime      string  `json:"schedule_time,omitempty"`
	ScheduleDay       int     `json:"schedule_day"`
	IsActive          bool    `json:"is_active"`
	LastRunAt         *string `json:"last_run_at,omitempty"`
	NextRunAt         *string `json:"next_run_at,omitempty"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeError(w, http.StatusBadRequest, "missing_actor", "X-Actor-ID header is required")
		return
	}

	var req createReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "title is required")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "prompt is required")
		return
	}

	report := &core.Report{
		ID:                uuid.NewString(),
		OwnerID:           actor,
		Title:             req.Title,
		Prompt:            req.Prompt,
		ScheduleType:      core.ScheduleManual,
		ScheduleFrequency: core.FrequencyDaily,
		ScheduleTime:      "09:00",
		IsActive:          true,
	}
	if req.IsActive != nil {
		report.IsActive = *req.IsActive
	}

	switch core.ScheduleType(req.ScheduleType) {
	case core.ScheduleManual, "":
	case core.ScheduleScheduled:
		report.ScheduleType = core.ScheduleScheduled
		if req.ScheduleFrequency != nil {
			report.ScheduleFrequency = core.Frequency(*req.ScheduleFrequency)
		}
		if req.ScheduleTime != nil {
			report.ScheduleTime = strings.TrimSpace(*req.ScheduleTime)
		}
		if req.ScheduleDay != nil {
			report.ScheduleDay = *req.ScheduleDay
		}
		if msg := validateSchedule(report); msg != "" {
			writeError(w, http.StatusBadRequest, "invalid_schedule", msg)
			return
		}
		if report.IsActive {
			next, err := core.NextRun(report.ScheduleTime, report.ScheduleFrequency, report.ScheduleDay, time.Now().UTC(), s.location)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_schedule", err.Error())
				return
			}
			report.NextRunAt = &next
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid_input", "schedule_type must be manual or scheduled")
		return
	}

	if err := s.store.InsertReport(r.Context(), report); err != nil {
		s.logger.Error("insert report", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert report")
		return
	}

	writeJSON(w, http.StatusCreated, reportToResponse(report))
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.store.ListReports(r.Context(), actorID(r))
	if err != nil {
		s.logger.Error("list reports", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list reports")
		return
	}
	res := make([]reportResponse, 0, len(reports))
	for _, report := range reports {
		res = append(res, reportToResponse(report))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, ok := s.loadOwnedReport(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, reportToResponse(report))
}

func (s *Server) handleUpdateReport(w http.ResponseWriter, r *http.Request) {
	report, ok := s.loadOwnedReport(w, r)
	if !ok {
		return
	}

	var req updateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", "title cannot be empty")
			return
		}
		report.Title = title
	}
	if req.Prompt != nil {
		prompt := strings.TrimSpace(*req.Prompt)
		if prompt == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", "prompt cannot be empty")
			return
		}
		report.Prompt = prompt
	}

	// next_run_at is recomputed only when the report is scheduled and
	// one of the schedule fields actually changed. Everything else,
	// including manual runs and activation flips, leaves it alone.
	scheduleChanged := false
	if req.ScheduleType != nil {
		st := core.ScheduleType(*req.ScheduleType)
		if st != core.ScheduleManual && st != core.ScheduleScheduled {
			writeError(w, http.StatusBadRequest, "invalid_input", "schedule_type must be manual or scheduled")
			return
		}
		if st != report.ScheduleType {
			report.ScheduleType = st
			scheduleChanged = true
		}
	}
	if req.ScheduleFrequency != nil && core.Frequency(*req.ScheduleFrequency) != report.ScheduleFrequency {
		report.ScheduleFrequency = core.Frequency(*req.ScheduleFrequency)
		scheduleChanged = true
	}
	if req.ScheduleTime != nil && strings.TrimSpace(*req.ScheduleTime) != report.ScheduleTime {
		report.ScheduleTime = strings.TrimSpace(*req.ScheduleTime)
		scheduleChanged = true
	}
	if req.ScheduleDay != nil && *req.ScheduleDay != report.ScheduleDay {
		report.ScheduleDay = *req.ScheduleDay
		scheduleChanged = true
	}
	if req.IsActive != nil {
		report.IsActive = *req.IsActive
	}

	if report.ScheduleType == core.ScheduleScheduled {
		if msg := validateSchedule(report); msg != "" {
			writeError(w, http.StatusBadRequest, "invalid_schedule", msg)
			return
		}
		if scheduleChanged {
			next, err := core.NextRun(report.ScheduleTime, report.ScheduleFrequency, report.ScheduleDay, time.Now().UTC(), s.location)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_schedule", err.Error())
				return
			}
			report.NextRunAt = &next
		}
	} else if scheduleChanged {
		report.NextRunAt = nil
	}

	if err := s.store.UpdateReport(r.Context(), report); err != nil {
		if errors.Is(err, store.ErrReportNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "report not found")
			return
		}
		s.logger.Error("update report", "report_id", report.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update report")
		return
	}

	writeJSON(w, http.StatusOK, reportToResponse(report))
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	report, ok := s.loadOwnedReport(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteReport(r.Context(), report.ID); err != nil {
		if errors.Is(err, store.ErrReportNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "report not found")
		} else {
			s.logger.Error("delete report", "report_id", report.ID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete report")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")
	result, err := s.coordinator.Run(r.Context(), actorID(r), reportID, core.TriggerManual)
	if err != nil {
		s.writeRunError(w, reportID, err)
		return
	}
	writeJSON(w, http.StatusOK, resultToResponse(result))
}

func (s *Server) writeRunError(w http.ResponseWriter, reportID string, err error) {
	var genErr *core.GenerationError
	switch {
	case errors.Is(err, store.ErrReportNotFound):
		writeError(w, http.StatusNotFound, "not_found", "report not found")
	case errors.Is(err, core.ErrNotOwner):
		writeError(w, http.StatusForbidden, "forbidden", "report is owned by a different user")
	case core.IsBusy(err):
		writeError(w, http.StatusConflict, "busy", "report is already running, try again later")
	case errors.Is(err, core.ErrReportInactive):
		writeError(w, http.StatusConflict, "inactive", "report schedule is not active")
	case errors.As(err, &genErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": map[string]any{
				"code":     "generation_failed",
				"status":   genErr.Status,
				"message":  genErr.Body,
				"guidance": genErr.Guidance(),
			},
		})
	default:
		s.logger.Error("run report", "report_id", reportID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to run report")
	}
}

// loadOwnedReport fetches the report in the URL and enforces ownership.
func (s *Server) loadOwnedReport(w http.ResponseWriter, r *http.Request) (*core.Report, bool) {
	reportID := chi.URLParam(r, "reportID")
	report, err := s.store.GetReport(r.Context(), reportID)
	if err != nil {
		if errors.Is(err, store.ErrReportNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "report not found")
		} else {
			s.logger.Error("get report", "report_id", reportID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load report")
		}
		return nil, false
	}
	if actor := actorID(r); actor != "" && report.OwnerID != actor {
		writeError(w, http.StatusForbidden, "forbidden", "report is owned by a different user")
		return nil, false
	}
	return report, true
}

func validateSchedule(report *core.Report) string {
	switch report.ScheduleFrequency {
	case core.FrequencyDaily:
	case core.FrequencyWeekly:
		if report.ScheduleDay < 0 || report.ScheduleDay > 6 {
			return "schedule_day must be 0-6 for weekly schedules"
		}
	case core.FrequencyMonthly:
		if report.ScheduleDay < 1 || report.ScheduleDay > 31 {
			return "schedule_day must be 1-31 for monthly schedules"
		}
	default:
		return "schedule_frequency must be daily, weekly or monthly"
	}
	if _, _, err := core.ParseClockTime(report.ScheduleTime); err != nil {
		return err.Error()
	}
	return ""
}

func reportToResponse(report *core.Report) reportResponse {
	var last, next *string
	if report.LastRunAt != nil {
		formatted := report.LastRunAt.UTC().Format(time.RFC3339)
		last = &formatted
	}
	if report.NextRunAt != nil {
		formatted := report.NextRunAt.UTC().Format(time.RFC3339)
		next = &formatted
	}
	return reportResponse{
		ID:                report.ID,
		OwnerID:           report.OwnerID,
		Title:             report.Title,
		Prompt:            report.Prompt,
		ScheduleType:      string(report.ScheduleType),
		ScheduleFrequency: string(report.ScheduleFrequency),
		ScheduleTime:      report.ScheduleTime,
		ScheduleDay:       report.ScheduleDay,
		IsActive:          report.IsActive,
		LastRunAt:         last,
		NextRunAt:         next,
		CreatedAt:         report.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         report.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
