package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"reportd/internal/core"
)

type schedulePreviewRequest struct {
	ScheduleTime string `json:"schedule_time"`
	Frequency    string `json:"schedule_frequency"`
	Day          int    `json:"schedule_day,omitempty"`
	Now          string `json:"now,omitempty"`
	Count        int    `json:"count,omitempty"`
}

type schedulePreviewResponse struct {
	Valid     bool     `json:"valid"`
	NextTimes []string `json:"next_times,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// handleSchedulePreview computes the next few run instants for a
// schedule without persisting anything, so the schedule picker UI can
// show the user what they are about to configure.
func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	var req schedulePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, schedulePreviewResponse{Valid: false, Message: "invalid JSON payload"})
		return
	}
	if strings.TrimSpace(req.ScheduleTime) == "" {
		writeJSON(w, http.StatusBadRequest, schedulePreviewResponse{Valid: false, Message: "schedule_time is required"})
		return
	}

	count := req.Count
	if count <= 0 || count > 10 {
		count = 5
	}

	base := time.Now().UTC()
	if req.Now != "" {
		if parsed, err := time.Parse(time.RFC3339, req.Now); err == nil {
			base = parsed.UTC()
		}
	}

	formatted := make([]string, 0, count)
	for i := 0; i < count; i++ {
		next, err := core.NextRun(req.ScheduleTime, core.Frequency(req.Frequency), req.Day, base, s.location)
		if err != nil {
			writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: false, Message: err.Error()})
			return
		}
		formatted = append(formatted, next.Format(time.RFC3339))
		base = next
	}
	writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: true, NextTimes: formatted})
}
