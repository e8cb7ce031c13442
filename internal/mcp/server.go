// Package mcp exposes report management as MCP tools over stdio, so
// the chat-with-AI front end can create and run reports mid-conversation.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"reportd/internal/core"
	"reportd/internal/store"
)

// MCPServer represents the MCP server that handles protocol communication.
type MCPServer struct {
	store       *store.Store
	coordinator *core.Coordinator
	logger      *slog.Logger
	location    *time.Location
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(store *store.Store, coordinator *core.Coordinator, logger *slog.Logger, location *time.Location) *MCPServer {
	return &MCPServer{
		store:       store,
		coordinator: coordinator,
		logger:      logger,
		location:    location,
	}
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	mcpServer := server.NewMCPServer(
		"reportd",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)

	s.logger.Info("MCP server starting on stdio")

	return server.ServeStdio(mcpServer)
}

// registerTools registers all available MCP tools.
func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("report_create",
		mcp.WithDescription("Create a report. Scheduled reports run automatically at a wall-clock time in the business timezone."),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Owner of the report"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Report title"),
		),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("Instruction sent to the generation service on every run"),
		),
		mcp.WithString("schedule_type",
			mcp.Description("manual or scheduled, default manual"),
			mcp.Enum("manual", "scheduled"),
		),
		mcp.WithString("schedule_frequency",
			mcp.Description("daily, weekly or monthly"),
			mcp.Enum("daily", "weekly", "monthly"),
		),
		mcp.WithString("schedule_time",
			mcp.Description("HH:MM wall clock in the business timezone, default 09:00"),
		),
		mcp.WithNumber("schedule_day",
			mcp.Description("Day of week 0-6 for weekly, day of month 1-31 for monthly"),
			mcp.Min(0),
			mcp.Max(31),
		),
	), s.handleCreateReport)

	mcpServer.AddTool(mcp.NewTool("report_list",
		mcp.WithDescription("List a user's reports"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Owner whose reports to list"),
		),
	), s.handleListReports)

	mcpServer.AddTool(mcp.NewTool("report_get",
		mcp.WithDescription("Get report details"),
		mcp.WithString("report_id",
			mcp.Required(),
			mcp.Description("Report ID"),
		),
	), s.handleGetReport)

	mcpServer.AddTool(mcp.NewTool("report_delete",
		mcp.WithDescription("Delete a report and its results"),
		mcp.WithString("report_id",
			mcp.Required(),
			mcp.Description("Report ID"),
		),
	), s.handleDeleteReport)

	mcpServer.AddTool(mcp.NewTool("report_run",
		mcp.WithDescription("Run a report now. A manual run never changes the report's scheduled next run."),
		mcp.WithString("report_id",
			mcp.Required(),
			mcp.Description("Report ID"),
		),
		mcp.WithString("user_id",
			mcp.Description("Acting user; must own the report when provided"),
		),
	), s.handleRunReport)

	mcpServer.AddTool(mcp.NewTool("report_results",
		mcp.WithDescription("List recent execution results of a report"),
		mcp.WithString("report_id",
			mcp.Required(),
			mcp.Description("Report ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of results to return, default 5"),
			mcp.Min(1),
			mcp.Max(50),
		),
	), s.handleListResults)

	mcpServer.AddTool(mcp.NewTool("report_schedule_preview",
		mcp.WithDescription("Preview the next run instants for a schedule"),
		mcp.WithString("schedule_time",
			mcp.Required(),
			mcp.Description("HH:MM wall clock in the business timezone"),
		),
		mcp.WithString("schedule_frequency",
			mcp.Required(),
			mcp.Description("daily, weekly or monthly"),
			mcp.Enum("daily", "weekly", "monthly"),
		),
		mcp.WithNumber("schedule_day",
			mcp.Description("Day of week 0-6 for weekly, day of month 1-31 for monthly"),
			mcp.Min(0),
			mcp.Max(31),
		),
	), s.handleSchedulePreview)

	s.logger.Info("MCP tools registered", "count", 7)
}

// handleCreateReport handles the report_create tool call.
func (s *MCPServer) handleCreateReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := mcp.ParseString(request, "user_id", "")
	title := strings.TrimSpace(mcp.ParseString(request, "title", ""))
	prompt := strings.TrimSpace(mcp.ParseString(request, "prompt", ""))
	if userID == "" || title == "" || prompt == "" {
		return mcp.NewToolResultError("user_id, title and prompt are required"), nil
	}

	report := &core.Report{
		ID:                uuid.NewString(),
		OwnerID:           userID,
		Title:             title,
		Prompt:            prompt,
		ScheduleType:      core.ScheduleManual,
		ScheduleFrequency: core.FrequencyDaily,
		ScheduleTime:      "09:00",
		IsActive:          true,
	}

	if mcp.ParseString(request, "schedule_type", "manual") == "scheduled" {
		report.ScheduleType = core.ScheduleScheduled
		if freq := mcp.ParseString(request, "schedule_frequency", ""); freq != "" {
			report.ScheduleFrequency = core.Frequency(freq)
		}
		if at := mcp.ParseString(request, "schedule_time", ""); at != "" {
			report.ScheduleTime = at
		}
		report.ScheduleDay = int(mcp.ParseFloat64(request, "schedule_day", 0))

		next, err := core.NextRun(report.ScheduleTime, report.ScheduleFrequency, report.ScheduleDay, time.Now().UTC(), s.location)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid schedule: %v", err)), nil
		}
		report.NextRunAt = &next
	}

	if err := s.store.InsertReport(ctx, report); err != nil {
		s.logger.Error("insert report", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to create report: %v", err)), nil
	}

	s.logger.Info("report created", "report_id", report.ID, "schedule_type", report.ScheduleType)

	return mcp.NewToolResultText(fmt.Sprintf("Report created\nID: %s\nNext run: %s",
		report.ID,
		formatTime(report.NextRunAt),
	)), nil
}

// handleListReports handles the report_list tool call.
func (s *MCPServer) handleListReports(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := mcp.ParseString(request, "user_id", "")

	reports, err := s.store.ListReports(ctx, userID)
	if err != nil {
		s.logger.Error("list reports", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reports: %v", err)), nil
	}

	if len(reports) == 0 {
		return mcp.NewToolResultText("No reports found"), nil
	}

	result := fmt.Sprintf("Found %d reports:\n\n", len(reports))
	for _, report := range reports {
		result += fmt.Sprintf("%s — %s\n", report.ID, report.Title)
		result += fmt.Sprintf("  Schedule: %s", report.ScheduleType)
		if report.ScheduleType == core.ScheduleScheduled {
			result += fmt.Sprintf(" (%s at %s)", report.ScheduleFrequency, report.ScheduleTime)
			if !report.IsActive {
				result += " [inactive]"
			}
		}
		result += "\n"
		if report.NextRunAt != nil {
			result += fmt.Sprintf("  Next run: %s\n", formatTime(report.NextRunAt))
		}
		if report.LastRunAt != nil {
			result += fmt.Sprintf("  Last run: %s\n", formatTime(report.LastRunAt))
		}
		result += "\n"
	}

	return mcp.NewToolResultText(result), nil
}

// handleGetReport handles the report_get tool call.
func (s *MCPServer) handleGetReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reportID := mcp.ParseString(request, "report_id", "")

	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		if errors.Is(err, store.ErrReportNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("report not found: %s", reportID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load report: %v", err)), nil
	}

	result := fmt.Sprintf("Report ID: %s\n", report.ID)
	result += fmt.Sprintf("Title: %s\n", report.Title)
	result += fmt.Sprintf("Owner: %s\n", report.OwnerID)
	result += fmt.Sprintf("Prompt: %s\n", truncateString(report.Prompt, 200))
	result += fmt.Sprintf("Schedule: %s\n", report.ScheduleType)
	if report.ScheduleType == core.ScheduleScheduled {
		result += fmt.Sprintf("Cadence: %s at %s (day %d)\n", report.ScheduleFrequency, report.ScheduleTime, report.ScheduleDay)
		result += fmt.Sprintf("Active: %t\n", report.IsActive)
	}
	if report.LastRunAt != nil {
		result += fmt.Sprintf("Last run: %s\n", formatTime(report.LastRunAt))
	}
	if report.NextRunAt != nil {
		result += fmt.Sprintf("Next run: %s\n", formatTime(report.NextRunAt))
	}
	result += fmt.Sprintf("Created: %s\n", formatTime(&report.CreatedAt))

	return mcp.NewToolResultText(result), nil
}

// handleDeleteReport handles the report_delete tool call.
func (s *MCPServer) handleDeleteReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reportID := mcp.ParseString(request, "report_id", "")

	if err := s.store.DeleteReport(ctx, reportID); err != nil {
		if errors.Is(err, store.ErrReportNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("report not found: %s", reportID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete report: %v", err)), nil
	}

	s.logger.Info("report deleted", "report_id", reportID)
	return mcp.NewToolResultText(fmt.Sprintf("Report %s deleted", reportID)), nil
}

// handleRunReport handles the report_run tool call.
func (s *MCPServer) handleRunReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reportID := mcp.ParseString(request, "report_id", "")
	userID := mcp.ParseString(request, "user_id", "")

	result, err := s.coordinator.Run(ctx, userID, reportID, core.TriggerManual)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrReportNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("report not found: %s", reportID)), nil
		case core.IsBusy(err):
			return mcp.NewToolResultError("report is already running, try again later"), nil
		case errors.Is(err, core.ErrNotOwner):
			return mcp.NewToolResultError("report is owned by a different user"), nil
		default:
			var genErr *core.GenerationError
			if errors.As(err, &genErr) {
				return mcp.NewToolResultError(fmt.Sprintf("generation failed (status %d): %s", genErr.Status, genErr.Guidance())), nil
			}
			s.logger.Error("run report", "report_id", reportID, "err", err)
			return mcp.NewToolResultError(fmt.Sprintf("failed to run report: %v", err)), nil
		}
	}

	return mcp.NewToolResultText(fmt.Sprintf("Run complete\nResult ID: %s\nLatency: %dms\n\n%s",
		result.ID,
		result.ResponseTimeMs,
		truncateString(result.Content, 2000),
	)), nil
}

// handleListResults handles the report_results tool call.
func (s *MCPServer) handleListResults(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reportID := mcp.ParseString(request, "report_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 5))

	results, err := s.store.ListResults(ctx, reportID, limit, 0)
	if err != nil {
		s.logger.Error("list results", "report_id", reportID, "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list results: %v", err)), nil
	}

	if len(results) == 0 {
		return mcp.NewToolResultText("No results found"), nil
	}

	result := fmt.Sprintf("Found %d results:\n\n", len(results))
	for _, res := range results {
		result += fmt.Sprintf("%s (%s, %dms)\n", res.ID, formatTime(&res.CreatedAt), res.ResponseTimeMs)
		result += fmt.Sprintf("  %s\n", truncateString(res.Content, 120))
		if res.VisualizationData != nil {
			result += "  [visualization attached]\n"
		}
		result += "\n"
	}

	return mcp.NewToolResultText(result), nil
}

// handleSchedulePreview handles the report_schedule_preview tool call.
func (s *MCPServer) handleSchedulePreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scheduleTime := mcp.ParseString(request, "schedule_time", "")
	frequency := core.Frequency(mcp.ParseString(request, "schedule_frequency", ""))
	day := int(mcp.ParseFloat64(request, "schedule_day", 0))

	base := time.Now().UTC()
	lines := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		next, err := core.NextRun(scheduleTime, frequency, day, base, s.location)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid schedule: %v", err)), nil
		}
		lines = append(lines, next.Format(time.RFC3339))
		base = next
	}

	return mcp.NewToolResultText("Next runs:\n" + strings.Join(lines, "\n")), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
