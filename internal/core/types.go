package core

import (
	"time"
)

// ScheduleType describes how a report is triggered.
type ScheduleType string

const (
	ScheduleManual    ScheduleType = "manual"
	ScheduleScheduled ScheduleType = "scheduled"
)

// Frequency describes the recurrence cadence of a scheduled report.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Trigger identifies what initiated a report run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// Report is a named, reusable generation request with optional schedule.
// ScheduleTime is wall-clock HH:MM in the business timezone. ScheduleDay
// is day-of-week 0-6 for weekly, day-of-month 1-31 for monthly, and
// ignored for daily.
type Report struct {
	ID                string
	OwnerID           string
	Title             string
	Prompt            string
	ScheduleType      ScheduleType
	ScheduleFrequency Frequency
	ScheduleTime      string
	ScheduleDay       int
	IsActive          bool
	LastRunAt         *time.Time
	NextRunAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ExecutionResult captures the output of one report run. It is immutable
// once written except for VisualizationData, which a separate generation
// step fills in later.
type ExecutionResult struct {
	ID                string
	ReportID          string
	Content           string
	ResponseTimeMs    int64
	Metadata          map[string]string
	VisualizationData *string
	CreatedAt         time.Time
}

// VisualizationArtifact is the derived rendering of a result's content,
// keyed by the result it decorates. It is either present or absent; the
// coordinator never observes a partial state.
type VisualizationArtifact struct {
	ResultID string
	Data     string
}

// RunContext is the resolved identity/org metadata passed to the
// generation service alongside a prompt. Degraded marks a context built
// from cached claims after a failed lookup.
type RunContext struct {
	UserID      string          `json:"user_id"`
	TeamID      string          `json:"team_id,omitempty"`
	TeamName    string          `json:"team_name,omitempty"`
	Role        string          `json:"role,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
	Visibility  map[string]bool `json:"visibility,omitempty"`
	Degraded    bool            `json:"degraded,omitempty"`
}

// MetricEvent is an in-memory usage event queued for batched aggregation.
type MetricEvent struct {
	Type     string
	Metadata map[string]string
}
