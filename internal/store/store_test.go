package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"reportd/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.DB.Close() })
	return s
}

func TestReportRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	next := time.Date(2025, time.June, 11, 13, 0, 0, 0, time.UTC)
	report := &core.Report{
		ID:                "r1",
		OwnerID:           "u1",
		Title:             "Weekly revenue",
		Prompt:            "Summarize revenue by region",
		ScheduleType:      core.ScheduleScheduled,
		ScheduleFrequency: core.FrequencyWeekly,
		ScheduleTime:      "09:00",
		ScheduleDay:       1,
		IsActive:          true,
		NextRunAt:         &next,
	}
	if err := s.InsertReport(ctx, report); err != nil {
		t.Fatalf("insert: %v", err)
	}

	loaded, err := s.GetReport(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Title != report.Title || loaded.ScheduleFrequency != core.FrequencyWeekly || loaded.ScheduleDay != 1 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.NextRunAt == nil || !loaded.NextRunAt.Equal(next) {
		t.Errorf("NextRunAt = %v, want %v", loaded.NextRunAt, next)
	}
	if loaded.LastRunAt != nil {
		t.Errorf("LastRunAt = %v, want nil", loaded.LastRunAt)
	}

	loaded.Title = "Weekly revenue v2"
	loaded.IsActive = false
	if err := s.UpdateReport(ctx, loaded); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, err := s.GetReport(ctx, "r1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if again.Title != "Weekly revenue v2" || again.IsActive {
		t.Errorf("after update = %+v", again)
	}

	if err := s.DeleteReport(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetReport(ctx, "r1"); !errors.Is(err, ErrReportNotFound) {
		t.Errorf("get after delete err = %v, want ErrReportNotFound", err)
	}
	if err := s.DeleteReport(ctx, "r1"); !errors.Is(err, ErrReportNotFound) {
		t.Errorf("double delete err = %v, want ErrReportNotFound", err)
	}
}

func TestListReportsFiltersByOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, r := range []*core.Report{
		{ID: "r1", OwnerID: "u1", Title: "A", Prompt: "p", ScheduleType: core.ScheduleManual, ScheduleFrequency: core.FrequencyDaily, ScheduleTime: "09:00", IsActive: true},
		{ID: "r2", OwnerID: "u2", Title: "B", Prompt: "p", ScheduleType: core.ScheduleManual, ScheduleFrequency: core.FrequencyDaily, ScheduleTime: "09:00", IsActive: true},
	} {
		if err := s.InsertReport(ctx, r); err != nil {
			t.Fatalf("insert %s: %v", r.ID, err)
		}
	}

	mine, err := s.ListReports(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "r1" {
		t.Errorf("mine = %+v", mine)
	}

	all, err := s.ListReports(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}
}

func TestListDueReports(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	reports := []*core.Report{
		{ID: "due", OwnerID: "u1", Title: "due", Prompt: "p", ScheduleType: core.ScheduleScheduled, ScheduleFrequency: core.FrequencyDaily, ScheduleTime: "09:00", IsActive: true, NextRunAt: &past},
		{ID: "future", OwnerID: "u1", Title: "future", Prompt: "p", ScheduleType: core.ScheduleScheduled, ScheduleFrequency: core.FrequencyDaily, ScheduleTime: "09:00", IsActive: true, NextRunAt: &future},
		{ID: "inactive", OwnerID: "u1", Title: "inactive", Prompt: "p", ScheduleType: core.ScheduleScheduled, ScheduleFrequency: core.FrequencyDaily, ScheduleTime: "09:00", IsActive: false, NextRunAt: &past},
		{ID: "manual", OwnerID: "u1", Title: "manual", Prompt: "p", ScheduleType: core.ScheduleManual, ScheduleFrequency: core.FrequencyDaily, ScheduleTime: "09:00", IsActive: true},
	}
	for _, r := range reports {
		if err := s.InsertReport(ctx, r); err != nil {
			t.Fatalf("insert %s: %v", r.ID, err)
		}
	}

	due, err := s.ListDueReports(ctx, now)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "due" {
		t.Errorf("due = %+v, want only the overdue active scheduled report", due)
	}
}

func TestListDueReportsSameSecondBoundary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Schedule instants have zero nanoseconds; the caller's clock rarely
	// does. A report due within the current second must still be listed.
	next := time.Date(2025, time.June, 10, 13, 0, 0, 0, time.UTC)
	report := &core.Report{ID: "r1", OwnerID: "u1", Title: "A", Prompt: "p", ScheduleType: core.ScheduleScheduled, ScheduleFrequency: core.FrequencyDaily, ScheduleTime: "09:00", IsActive: true, NextRunAt: &next}
	if err := s.InsertReport(ctx, report); err != nil {
		t.Fatalf("insert: %v", err)
	}

	due, err := s.ListDueReports(ctx, next.Add(500*time.Millisecond))
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due = %d, want 1 for next_run_at within the current second", len(due))
	}

	due, err = s.ListDueReports(ctx, next.Add(-500*time.Millisecond))
	if err != nil {
		t.Fatalf("list due before: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("due = %d, want 0 before the scheduled second", len(due))
	}
}

func TestUpdateReportRunInfo(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	report := &core.Report{ID: "r1", OwnerID: "u1", Title: "A", Prompt: "p", ScheduleType: core.ScheduleScheduled, ScheduleFrequency: core.FrequencyDaily, ScheduleTime: "09:00", IsActive: true}
	if err := s.InsertReport(ctx, report); err != nil {
		t.Fatalf("insert: %v", err)
	}

	last := time.Now().UTC().Truncate(time.Millisecond)
	next := last.Add(24 * time.Hour)
	if err := s.UpdateReportRunInfo(ctx, "r1", &last, &next); err != nil {
		t.Fatalf("update run info: %v", err)
	}

	loaded, err := s.GetReport(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.LastRunAt == nil || !loaded.LastRunAt.Equal(last) {
		t.Errorf("LastRunAt = %v, want %v", loaded.LastRunAt, last)
	}
	if loaded.NextRunAt == nil || !loaded.NextRunAt.Equal(next) {
		t.Errorf("NextRunAt = %v, want %v", loaded.NextRunAt, next)
	}
}

func TestResultRoundTripAndVisualization(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	report := &core.Report{ID: "r1", OwnerID: "u1", Title: "A", Prompt: "p", ScheduleType: core.ScheduleManual, ScheduleFrequency: core.FrequencyDaily, ScheduleTime: "09:00", IsActive: true}
	if err := s.InsertReport(ctx, report); err != nil {
		t.Fatalf("insert report: %v", err)
	}

	result := &core.ExecutionResult{
		ID:             "res1",
		ReportID:       "r1",
		Content:        "quarterly summary",
		ResponseTimeMs: 420,
		Metadata:       map[string]string{"trigger": "manual"},
	}
	if err := s.InsertResult(ctx, result); err != nil {
		t.Fatalf("insert result: %v", err)
	}

	loaded, err := s.GetResult(ctx, "res1")
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if loaded.Content != "quarterly summary" || loaded.ResponseTimeMs != 420 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Metadata["trigger"] != "manual" {
		t.Errorf("metadata = %+v", loaded.Metadata)
	}
	if loaded.VisualizationData != nil {
		t.Errorf("VisualizationData = %v, want nil before attach", loaded.VisualizationData)
	}

	// Result exists but no artifact yet: nil artifact, nil error.
	artifact, err := s.GetVisualization(ctx, "res1")
	if err != nil {
		t.Fatalf("get visualization: %v", err)
	}
	if artifact != nil {
		t.Errorf("artifact = %+v, want nil", artifact)
	}

	if err := s.SetVisualization(ctx, "res1", `{"type":"bar"}`); err != nil {
		t.Fatalf("set visualization: %v", err)
	}
	artifact, err = s.GetVisualization(ctx, "res1")
	if err != nil {
		t.Fatalf("get visualization after set: %v", err)
	}
	if artifact == nil || artifact.Data != `{"type":"bar"}` {
		t.Errorf("artifact = %+v", artifact)
	}

	if err := s.SetVisualization(ctx, "missing", `{}`); !errors.Is(err, ErrResultNotFound) {
		t.Errorf("set on missing result err = %v, want ErrResultNotFound", err)
	}
	if _, err := s.GetVisualization(ctx, "missing"); !errors.Is(err, ErrResultNotFound) {
		t.Errorf("get on missing result err = %v, want ErrResultNotFound", err)
	}
}

func TestListResultsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	report := &core.Report{ID: "r1", OwnerID: "u1", Title: "A", Prompt: "p", ScheduleType: core.ScheduleManual, ScheduleFrequency: core.FrequencyDaily, ScheduleTime: "09:00", IsActive: true}
	if err := s.InsertReport(ctx, report); err != nil {
		t.Fatalf("insert report: %v", err)
	}

	for _, id := range []string{"res1", "res2", "res3"} {
		if err := s.InsertResult(ctx, &core.ExecutionResult{ID: id, ReportID: "r1", Content: id}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	results, err := s.ListResults(ctx, "r1", 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len = %d, want 2", len(results))
	}
	if results[0].ID != "res3" || results[1].ID != "res2" {
		t.Errorf("order = %s, %s; want res3, res2", results[0].ID, results[1].ID)
	}

	page, err := s.ListResults(ctx, "r1", 2, 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page) != 1 || page[0].ID != "res1" {
		t.Errorf("page 2 = %+v", page)
	}
}

func TestDeleteReportCascadesResults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	report := &core.Report{ID: "r1", OwnerID: "u1", Title: "A", Prompt: "p", ScheduleType: core.ScheduleManual, ScheduleFrequency: core.FrequencyDaily, ScheduleTime: "09:00", IsActive: true}
	if err := s.InsertReport(ctx, report); err != nil {
		t.Fatalf("insert report: %v", err)
	}
	if err := s.InsertResult(ctx, &core.ExecutionResult{ID: "res1", ReportID: "r1", Content: "c"}); err != nil {
		t.Fatalf("insert result: %v", err)
	}
	if err := s.DeleteReport(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetResult(ctx, "res1"); !errors.Is(err, ErrResultNotFound) {
		t.Errorf("result survived report delete: err = %v", err)
	}
}

func TestIncrementMetricAggregates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.IncrementMetric(ctx, "report_executed", 3); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := s.IncrementMetric(ctx, "report_executed", 2); err != nil {
		t.Fatalf("increment again: %v", err)
	}
	if err := s.IncrementMetric(ctx, "report_created", 1); err != nil {
		t.Fatalf("increment other: %v", err)
	}

	counts, err := s.MetricCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["report_executed"] != 5 {
		t.Errorf("report_executed = %d, want 5", counts["report_executed"])
	}
	if counts["report_created"] != 1 {
		t.Errorf("report_created = %d, want 1", counts["report_created"])
	}
}
