package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu      sync.Mutex
	reports map[string]*Report
	results []*ExecutionResult
	viz     map[string]*VisualizationArtifact

	insertErr      error
	runInfoErr     error
	vizErr         error
	vizReads       int
	lastRunInfo    *time.Time
	lastNextRunSet bool
	lastNextRun    *time.Time
}

func newFakeStore(reports ...*Report) *fakeStore {
	fs := &fakeStore{
		reports: make(map[string]*Report),
		viz:     make(map[string]*VisualizationArtifact),
	}
	for _, r := range reports {
		fs.reports[r.ID] = r
	}
	return fs
}

func (f *fakeStore) GetReport(ctx context.Context, id string) (*Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	report, ok := f.reports[id]
	if !ok {
		return nil, errors.New("report not found")
	}
	copied := *report
	return &copied, nil
}

func (f *fakeStore) ListScheduledReports(ctx context.Context) ([]*Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Report
	for _, r := range f.reports {
		if r.ScheduleType == ScheduleScheduled && r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListDueReports(ctx context.Context, now time.Time) ([]*Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Report
	for _, r := range f.reports {
		if r.ScheduleType == ScheduleScheduled && r.IsActive && r.NextRunAt != nil && !r.NextRunAt.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateReportRunInfo(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runInfoErr != nil {
		return f.runInfoErr
	}
	f.lastRunInfo = lastRunAt
	f.lastNextRunSet = true
	f.lastNextRun = nextRunAt
	if report, ok := f.reports[id]; ok {
		report.LastRunAt = lastRunAt
		report.NextRunAt = nextRunAt
	}
	return nil
}

func (f *fakeStore) UpdateReportNextRun(ctx context.Context, id string, nextRunAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if report, ok := f.reports[id]; ok {
		report.NextRunAt = nextRunAt
	}
	return nil
}

func (f *fakeStore) InsertResult(ctx context.Context, result *ExecutionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.results = append(f.results, result)
	return nil
}

func (f *fakeStore) GetVisualization(ctx context.Context, resultID string) (*VisualizationArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vizReads++
	if f.vizErr != nil {
		return nil, f.vizErr
	}
	return f.viz[resultID], nil
}

func (f *fakeStore) resultCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

type fakeGenerator struct {
	mu       sync.Mutex
	output   string
	err      error
	block    chan struct{}
	lastCtx  *RunContext
	vizCalls int
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, rc *RunContext) (string, error) {
	g.mu.Lock()
	g.lastCtx = rc
	block := g.block
	g.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.err != nil {
		return "", g.err
	}
	return g.output, nil
}

func (g *fakeGenerator) RequestVisualization(ctx context.Context, resultID, content string) error {
	g.mu.Lock()
	g.vizCalls++
	g.mu.Unlock()
	return nil
}

func (g *fakeGenerator) lastRunContext() *RunContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastCtx
}

type fakeIdentity struct {
	rc     *RunContext
	err    error
	cached *RunContext
}

func (f *fakeIdentity) Resolve(ctx context.Context, userID string) (*RunContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rc, nil
}

func (f *fakeIdentity) Cached(userID string) (*RunContext, bool) {
	if f.cached == nil {
		return nil, false
	}
	copied := *f.cached
	return &copied, true
}

type captureRecorder struct {
	mu     sync.Mutex
	events []MetricEvent
}

func (c *captureRecorder) Record(event MetricEvent) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func manualReport(id, owner string) *Report {
	return &Report{
		ID:           id,
		OwnerID:      owner,
		Title:        "Weekly revenue",
		Prompt:       "Summarize revenue",
		ScheduleType: ScheduleManual,
		IsActive:     true,
	}
}

func scheduledReport(id, owner string, next time.Time) *Report {
	return &Report{
		ID:                id,
		OwnerID:           owner,
		Title:             "Daily standup digest",
		Prompt:            "Summarize yesterday",
		ScheduleType:      ScheduleScheduled,
		ScheduleFrequency: FrequencyDaily,
		ScheduleTime:      "09:00",
		IsActive:          true,
		NextRunAt:         &next,
	}
}

func newTestCoordinator(store Store, gen Generator, id IdentityResolver, rec Recorder) *Coordinator {
	return NewCoordinator(store, gen, id, rec, discardLogger(), time.UTC, time.Minute)
}

func TestRunManualLeavesNextRunAlone(t *testing.T) {
	next := time.Date(2025, time.June, 11, 13, 0, 0, 0, time.UTC)
	report := scheduledReport("r1", "u1", next)
	fs := newFakeStore(report)
	gen := &fakeGenerator{output: "report body"}
	c := newTestCoordinator(fs, gen, &fakeIdentity{rc: &RunContext{UserID: "u1"}}, nil)

	result, err := c.Run(context.Background(), "u1", "r1", TriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "report body" {
		t.Errorf("content = %q, want %q", result.Content, "report body")
	}
	if fs.resultCount() != 1 {
		t.Fatalf("results = %d, want 1", fs.resultCount())
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.lastRunInfo == nil {
		t.Fatal("LastRunAt was not updated")
	}
	if fs.lastNextRun == nil || !fs.lastNextRun.Equal(next) {
		t.Errorf("NextRunAt changed on manual run: got %v, want %v", fs.lastNextRun, next)
	}
}

func TestRunScheduledAdvancesNextRun(t *testing.T) {
	next := time.Now().UTC().Add(-time.Minute)
	report := scheduledReport("r1", "u1", next)
	fs := newFakeStore(report)
	gen := &fakeGenerator{output: "ok"}
	c := newTestCoordinator(fs, gen, &fakeIdentity{rc: &RunContext{UserID: "u1"}}, nil)

	if _, err := c.Run(context.Background(), "", "r1", TriggerScheduled); err != nil {
		t.Fatalf("Run: %v", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.lastNextRun == nil {
		t.Fatal("NextRunAt not set after scheduled run")
	}
	if !fs.lastNextRun.After(time.Now().UTC()) {
		t.Errorf("NextRunAt %v is not in the future", fs.lastNextRun)
	}
}

func TestRunRejectsConcurrentExecution(t *testing.T) {
	report := manualReport("r1", "u1")
	fs := newFakeStore(report)
	gen := &fakeGenerator{output: "ok", block: make(chan struct{})}
	c := newTestCoordinator(fs, gen, &fakeIdentity{rc: &RunContext{UserID: "u1"}}, nil)

	firstDone := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background(), "u1", "r1", TriggerManual)
		firstDone <- err
	}()

	// Wait for the first run to take the slot.
	deadline := time.Now().Add(2 * time.Second)
	for !c.IsRunning("r1") {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := c.Run(context.Background(), "u1", "r1", TriggerManual); !IsBusy(err) {
		t.Errorf("second run err = %v, want ErrReportBusy", err)
	}

	close(gen.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if c.IsRunning("r1") {
		t.Error("slot not released after run finished")
	}
	if fs.resultCount() != 1 {
		t.Errorf("results = %d, want 1", fs.resultCount())
	}
}

func TestRunGenerationFailurePersistsNothing(t *testing.T) {
	report := manualReport("r1", "u1")
	fs := newFakeStore(report)
	genErr := &GenerationError{Status: 504, Body: "timed out"}
	gen := &fakeGenerator{err: genErr}
	c := newTestCoordinator(fs, gen, &fakeIdentity{rc: &RunContext{UserID: "u1"}}, nil)

	_, err := c.Run(context.Background(), "u1", "r1", TriggerManual)
	var ge *GenerationError
	if !errors.As(err, &ge) || ge.Status != 504 {
		t.Fatalf("err = %v, want 504 GenerationError", err)
	}
	if fs.resultCount() != 0 {
		t.Errorf("results = %d, want 0", fs.resultCount())
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.lastRunInfo != nil {
		t.Error("bookkeeping updated despite failed generation")
	}
}

func TestRunPersistFailureAbortsBookkeeping(t *testing.T) {
	report := manualReport("r1", "u1")
	fs := newFakeStore(report)
	fs.insertErr = errors.New("disk full")
	gen := &fakeGenerator{output: "ok"}
	c := newTestCoordinator(fs, gen, &fakeIdentity{rc: &RunContext{UserID: "u1"}}, nil)

	if _, err := c.Run(context.Background(), "u1", "r1", TriggerManual); err == nil {
		t.Fatal("expected error from failed persist")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.lastRunInfo != nil {
		t.Error("bookkeeping updated despite failed persist")
	}
}

func TestRunSurvivesBookkeepingFailure(t *testing.T) {
	report := manualReport("r1", "u1")
	fs := newFakeStore(report)
	fs.runInfoErr = errors.New("write failed")
	gen := &fakeGenerator{output: "ok"}
	c := newTestCoordinator(fs, gen, &fakeIdentity{rc: &RunContext{UserID: "u1"}}, nil)

	result, err := c.Run(context.Background(), "u1", "r1", TriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result == nil || result.Content != "ok" {
		t.Errorf("result = %+v, want durable result despite bookkeeping failure", result)
	}
}

func TestRunOwnershipAndActivation(t *testing.T) {
	inactive := scheduledReport("r2", "u1", time.Now().UTC())
	inactive.IsActive = false
	fs := newFakeStore(manualReport("r1", "u1"), inactive)
	gen := &fakeGenerator{output: "ok"}
	c := newTestCoordinator(fs, gen, &fakeIdentity{rc: &RunContext{UserID: "u1"}}, nil)

	if _, err := c.Run(context.Background(), "intruder", "r1", TriggerManual); !errors.Is(err, ErrNotOwner) {
		t.Errorf("err = %v, want ErrNotOwner", err)
	}
	if _, err := c.Run(context.Background(), "", "r2", TriggerScheduled); !errors.Is(err, ErrReportInactive) {
		t.Errorf("err = %v, want ErrReportInactive", err)
	}
	// Manual runs are allowed on an inactive schedule.
	if _, err := c.Run(context.Background(), "u1", "r2", TriggerManual); err != nil {
		t.Errorf("manual run on inactive report: %v", err)
	}
}

func TestRunFallsBackToCachedIdentity(t *testing.T) {
	report := manualReport("r1", "u1")
	cached := &RunContext{UserID: "u1", TeamName: "Finance", Role: "analyst"}
	id := &fakeIdentity{err: errors.New("provider down"), cached: cached}
	fs := newFakeStore(report)
	gen := &fakeGenerator{output: "ok"}
	c := newTestCoordinator(fs, gen, id, nil)

	if _, err := c.Run(context.Background(), "u1", "r1", TriggerManual); err != nil {
		t.Fatalf("Run: %v", err)
	}
	rc := gen.lastRunContext()
	if rc == nil || !rc.Degraded {
		t.Fatalf("run context = %+v, want degraded copy of cached claims", rc)
	}
	if rc.TeamName != "Finance" {
		t.Errorf("TeamName = %q, want cached value", rc.TeamName)
	}
	if cached.Degraded {
		t.Error("fallback mutated the cached entry")
	}
}

func TestRunFallsBackToMinimalIdentity(t *testing.T) {
	report := manualReport("r1", "u1")
	id := &fakeIdentity{err: errors.New("provider down")}
	fs := newFakeStore(report)
	gen := &fakeGenerator{output: "ok"}
	c := newTestCoordinator(fs, gen, id, nil)

	if _, err := c.Run(context.Background(), "u1", "r1", TriggerManual); err != nil {
		t.Fatalf("Run: %v", err)
	}
	rc := gen.lastRunContext()
	if rc == nil || rc.UserID != "u1" || !rc.Degraded {
		t.Errorf("run context = %+v, want minimal degraded context for u1", rc)
	}
}

func TestRunRecordsUsageMetric(t *testing.T) {
	report := manualReport("r1", "u1")
	fs := newFakeStore(report)
	gen := &fakeGenerator{output: "ok"}
	rec := &captureRecorder{}
	c := newTestCoordinator(fs, gen, &fakeIdentity{rc: &RunContext{UserID: "u1"}}, rec)

	if _, err := c.Run(context.Background(), "u1", "r1", TriggerManual); err != nil {
		t.Fatalf("Run: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 || rec.events[0].Type != "report_executed" {
		t.Errorf("events = %+v, want one report_executed", rec.events)
	}
}
