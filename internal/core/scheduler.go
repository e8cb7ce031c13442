package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"reportd/internal/notify"
)

// Scheduler drives automatic report execution. A per-minute tick loads
// reports whose next_run_at has arrived and hands each to the
// coordinator; the coordinator's busy guard makes a tick that overlaps
// a still-running report a logged skip rather than a double run.
type Scheduler struct {
	store       Store
	coordinator *Coordinator
	notifier    notify.Notifier
	logger      *slog.Logger
	location    *time.Location

	cron *cron.Cron
	wg   sync.WaitGroup

	ctx context.Context
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(store Store, coordinator *Coordinator, notifier notify.Notifier, logger *slog.Logger, location *time.Location) *Scheduler {
	if location == nil {
		location = time.Local
	}
	if notifier == nil {
		notifier = &notify.NoOpNotifier{}
	}
	return &Scheduler{
		store:       store,
		coordinator: coordinator,
		notifier:    notifier,
		logger:      logger,
		location:    location,
		cron:        cron.New(cron.WithLocation(location)),
	}
}

// Start begins the tick loop. ctx is used for background operations
// (store reads, coordinator runs).
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	if _, err := s.cron.AddFunc("* * * * *", s.tick); err != nil {
		return fmt.Errorf("register scheduler tick: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop stops the tick loop and returns a context that is done once any
// in-flight tick and the dispatches it launched have returned.
func (s *Scheduler) Stop() context.Context {
	cronCtx := s.cron.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		<-cronCtx.Done()
		s.wg.Wait()
	}()
	return ctx
}

// Sync backfills next_run_at for active scheduled reports that are
// missing one, e.g. reports created while the daemon was down.
func (s *Scheduler) Sync(ctx context.Context) error {
	reports, err := s.store.ListScheduledReports(ctx)
	if err != nil {
		return fmt.Errorf("list scheduled reports: %w", err)
	}
	now := time.Now().UTC()
	for _, report := range reports {
		if report.NextRunAt != nil {
			continue
		}
		next, err := NextRun(report.ScheduleTime, report.ScheduleFrequency, report.ScheduleDay, now, s.location)
		if err != nil {
			s.logger.Error("compute next run during sync", "report_id", report.ID, "err", err)
			continue
		}
		if err := s.store.UpdateReportNextRun(ctx, report.ID, &next); err != nil {
			s.logger.Warn("backfill next_run_at", "report_id", report.ID, "err", err)
		}
	}
	return nil
}

func (s *Scheduler) tick() {
	ctx := s.ctxOrBackground()
	due, err := s.store.ListDueReports(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("list due reports", "err", err)
		return
	}
	for _, report := range due {
		report := report
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dispatch(ctx, report)
		}()
	}
}

func (s *Scheduler) dispatch(ctx context.Context, report *Report) {
	_, err := s.coordinator.Run(ctx, "", report.ID, TriggerScheduled)
	if err == nil {
		return
	}
	if IsBusy(err) {
		s.logger.Info("skipping scheduled run, report still executing", "report_id", report.ID)
		return
	}
	s.logger.Error("scheduled run failed", "report_id", report.ID, "err", err)
	notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.notifier.Send(notifyCtx, "Scheduled report failed", fmt.Sprintf("Report %q (%s): %v", report.Title, report.ID, err)); err != nil {
		s.logger.Warn("send failure notification", "report_id", report.ID, "err", err)
	}
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
