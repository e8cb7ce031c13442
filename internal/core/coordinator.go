package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store abstracts the persistence layer used by the coordinator,
// scheduler and poller.
type Store interface {
	// Report operations
	GetReport(ctx context.Context, id string) (*Report, error)
	ListScheduledReports(ctx context.Context) ([]*Report, error)
	ListDueReports(ctx context.Context, now time.Time) ([]*Report, error)
	UpdateReportRunInfo(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error
	UpdateReportNextRun(ctx context.Context, id string, nextRunAt *time.Time) error

	// Result operations
	InsertResult(ctx context.Context, result *ExecutionResult) error
	GetVisualization(ctx context.Context, resultID string) (*VisualizationArtifact, error)
}

// Generator invokes the external generation service.
type Generator interface {
	Generate(ctx context.Context, prompt string, rc *RunContext) (string, error)
	RequestVisualization(ctx context.Context, resultID, content string) error
}

// IdentityResolver resolves the acting identity's run context. Cached
// returns the last successfully resolved context for a user, if any.
type IdentityResolver interface {
	Resolve(ctx context.Context, userID string) (*RunContext, error)
	Cached(userID string) (*RunContext, bool)
}

// Coordinator orchestrates a single report run: it resolves the run
// context, invokes the generation service, persists the result and
// updates run bookkeeping. At most one run per report id is in flight
// at a time, enforced by an in-process set; a second daemon instance
// has its own set and could double-run a report, so deploy one.
type Coordinator struct {
	store      Store
	gen        Generator
	identity   IdentityResolver
	metrics    Recorder
	logger     *slog.Logger
	location   *time.Location
	genTimeout time.Duration

	running sync.Map // reportID -> struct{}{}

	onResult func(*ExecutionResult)
}

// NewCoordinator constructs a coordinator with the given dependencies.
// metrics may be nil when usage metrics are disabled.
func NewCoordinator(store Store, gen Generator, identity IdentityResolver, metrics Recorder, logger *slog.Logger, location *time.Location, genTimeout time.Duration) *Coordinator {
	if location == nil {
		location = time.Local
	}
	return &Coordinator{
		store:      store,
		gen:        gen,
		identity:   identity,
		metrics:    metrics,
		logger:     logger,
		location:   location,
		genTimeout: genTimeout,
	}
}

// SetResultListener registers a callback invoked after every successful
// run, once the result is durable. Optional; intended for UI-facing
// fan-out layers that want a "result ready" signal.
func (c *Coordinator) SetResultListener(fn func(*ExecutionResult)) {
	c.onResult = fn
}

// IsRunning reports whether a run for the report is currently in flight.
func (c *Coordinator) IsRunning(reportID string) bool {
	_, ok := c.running.Load(reportID)
	return ok
}

// Run executes the report once. actorID must own the report; pass an
// empty actorID for internal callers such as the scheduler. Scheduled
// triggers require the report to be active. Returns ErrReportBusy when
// a run for the same report is already in flight.
//
// Manual runs update LastRunAt but never touch NextRunAt, so an
// operator re-running a report to check its output does not push the
// next automatic run further out.
func (c *Coordinator) Run(ctx context.Context, actorID, reportID string, trigger Trigger) (*ExecutionResult, error) {
	report, err := c.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}
	if actorID != "" && report.OwnerID != actorID {
		return nil, ErrNotOwner
	}
	if trigger == TriggerScheduled && (report.ScheduleType != ScheduleScheduled || !report.IsActive) {
		return nil, ErrReportInactive
	}

	if _, loaded := c.running.LoadOrStore(reportID, struct{}{}); loaded {
		return nil, ErrReportBusy
	}
	defer c.running.Delete(reportID)

	rc := c.resolveContext(ctx, report.OwnerID)

	genCtx := ctx
	cancel := func() {}
	if c.genTimeout > 0 {
		genCtx, cancel = context.WithTimeout(ctx, c.genTimeout)
	}
	started := time.Now()
	content, err := c.gen.Generate(genCtx, report.Prompt, rc)
	cancel()
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(started)

	now := time.Now().UTC()
	result := &ExecutionResult{
		ID:             uuid.NewString(),
		ReportID:       report.ID,
		Content:        content,
		ResponseTimeMs: elapsed.Milliseconds(),
		Metadata: map[string]string{
			"report_id": report.ID,
			"title":     report.Title,
			"frequency": string(report.ScheduleFrequency),
			"trigger":   string(trigger),
			"timestamp": now.Format(time.RFC3339),
		},
	}
	if err := c.store.InsertResult(ctx, result); err != nil {
		return nil, fmt.Errorf("persist result: %w", err)
	}

	nextRunAt := report.NextRunAt
	if trigger == TriggerScheduled {
		next, err := NextRun(report.ScheduleTime, report.ScheduleFrequency, report.ScheduleDay, now, c.location)
		if err != nil {
			c.logger.Error("compute next run", "report_id", report.ID, "err", err)
		} else {
			nextRunAt = &next
		}
	}
	// The result is durable at this point; a failed bookkeeping write
	// does not retroactively fail the run.
	if err := c.store.UpdateReportRunInfo(ctx, report.ID, &now, nextRunAt); err != nil {
		c.logger.Error("update run bookkeeping", "report_id", report.ID, "err", err)
	}

	go func() {
		vizCtx, vizCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer vizCancel()
		if err := c.gen.RequestVisualization(vizCtx, result.ID, result.Content); err != nil {
			c.logger.Warn("request visualization", "result_id", result.ID, "err", err)
		}
	}()

	if c.metrics != nil {
		c.metrics.Record(MetricEvent{
			Type: "report_executed",
			Metadata: map[string]string{
				"report_id": report.ID,
				"trigger":   string(trigger),
				"degraded":  strconv.FormatBool(rc.Degraded),
			},
		})
	}
	if c.onResult != nil {
		c.onResult(result)
	}
	return result, nil
}

// resolveContext asks the identity provider for the owner's run context
// and falls back to cached claims when the lookup fails. Reports stay
// usable while the provider is degraded.
func (c *Coordinator) resolveContext(ctx context.Context, ownerID string) *RunContext {
	rc, err := c.identity.Resolve(ctx, ownerID)
	if err == nil {
		return rc
	}
	c.logger.Warn("identity context lookup failed, using cached claims", "user_id", ownerID, "err", err)
	if cached, ok := c.identity.Cached(ownerID); ok {
		degraded := *cached
		degraded.Degraded = true
		return &degraded
	}
	return &RunContext{UserID: ownerID, DisplayName: ownerID, Degraded: true}
}

// IsBusy reports whether err is the busy condition from Run.
func IsBusy(err error) bool {
	return errors.Is(err, ErrReportBusy)
}
