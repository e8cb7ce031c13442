package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reportd/internal/core"
)

var ErrReportNotFound = errors.New("report not found")

func (s *Store) InsertReport(ctx context.Context, report *core.Report) error {
	now := time.Now().UTC()
	report.CreatedAt = now
	report.UpdatedAt = now
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO reports (id, owner_id, title, prompt, schedule_type, schedule_frequency, schedule_time, schedule_day, is_active, last_run_at, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.ID, report.OwnerID, report.Title, report.Prompt, report.ScheduleType, report.ScheduleFrequency,
		report.ScheduleTime, report.ScheduleDay, boolToInt(report.IsActive),
		nullableTime(report.LastRunAt), nullableTime(report.NextRunAt),
		report.CreatedAt.Format(time.RFC3339Nano), report.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *Store) UpdateReport(ctx context.Context, report *core.Report) error {
	report.UpdatedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE reports
		SET title = ?, prompt = ?, schedule_type = ?, schedule_frequency = ?, schedule_time = ?, schedule_day = ?, is_active = ?, last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, report.Title, report.Prompt, report.ScheduleType, report.ScheduleFrequency, report.ScheduleTime,
		report.ScheduleDay, boolToInt(report.IsActive), nullableTime(report.LastRunAt), nullableTime(report.NextRunAt),
		report.UpdatedAt.Format(time.RFC3339Nano), report.ID)
	if err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update report rows: %w", err)
	}
	if rows == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (s *Store) DeleteReport(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, id string) (*core.Report, error) {
	row := s.DB.QueryRowContext(ctx, reportSelect+` WHERE id = ?`, id)
	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}
	return report, nil
}

// ListReports returns a user's reports, newest first. An empty ownerID
// lists every report.
func (s *Store) ListReports(ctx context.Context, ownerID string) ([]*core.Report, error) {
	var rows *sql.Rows
	var err error
	if ownerID != "" {
		rows, err = s.DB.QueryContext(ctx, reportSelect+` WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	} else {
		rows, err = s.DB.QueryContext(ctx, reportSelect+` ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	return collectReports(rows)
}

// ListScheduledReports returns all active reports on a schedule.
func (s *Store) ListScheduledReports(ctx context.Context) ([]*core.Report, error) {
	rows, err := s.DB.QueryContext(ctx, reportSelect+`
		WHERE schedule_type = ? AND is_active = 1
	`, core.ScheduleScheduled)
	if err != nil {
		return nil, fmt.Errorf("query scheduled reports: %w", err)
	}
	return collectReports(rows)
}

// ListDueReports returns active scheduled reports whose next_run_at has
// arrived.
func (s *Store) ListDueReports(ctx context.Context, now time.Time) ([]*core.Report, error) {
	// next_run_at is compared as text. Stored instants carry whole-second
	// precision, so the bound must too: a fractional now would sort before
	// an equal whole-second timestamp.
	bound := now.UTC().Truncate(time.Second).Format(time.RFC3339Nano)
	rows, err := s.DB.QueryContext(ctx, reportSelect+`
		WHERE schedule_type = ? AND is_active = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
	`, core.ScheduleScheduled, bound)
	if err != nil {
		return nil, fmt.Errorf("query due reports: %w", err)
	}
	return collectReports(rows)
}

func (s *Store) UpdateReportRunInfo(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE reports
		SET last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, nullableTime(lastRunAt), nullableTime(nextRunAt), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update report run info: %w", err)
	}
	return nil
}

func (s *Store) UpdateReportNextRun(ctx context.Context, id string, nextRunAt *time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE reports
		SET next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, nullableTime(nextRunAt), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update next_run_at: %w", err)
	}
	return nil
}

const reportSelect = `
	SELECT id, owner_id, title, prompt, schedule_type, schedule_frequency, schedule_time, schedule_day, is_active, last_run_at, next_run_at, created_at, updated_at
	FROM reports`

func collectReports(rows *sql.Rows) ([]*core.Report, error) {
	defer rows.Close()
	var reports []*core.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}

func scanReport(scanner interface {
	Scan(dest ...any) error
}) (*core.Report, error) {
	var (
		id        string
		ownerID   string
		title     string
		prompt    string
		schedType string
		frequency string
		schedTime string
		schedDay  int
		isActive  int
		lastRun   sql.NullString
		nextRun   sql.NullString
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&id, &ownerID, &title, &prompt, &schedType, &frequency, &schedTime, &schedDay, &isActive, &lastRun, &nextRun, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}
	report := &core.Report{
		ID:                id,
		OwnerID:           ownerID,
		Title:             title,
		Prompt:            prompt,
		ScheduleType:      core.ScheduleType(schedType),
		ScheduleFrequency: core.Frequency(frequency),
		ScheduleTime:      schedTime,
		ScheduleDay:       schedDay,
		IsActive:          isActive != 0,
	}
	if lastRun.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastRun.String); err == nil {
			report.LastRunAt = &t
		}
	}
	if nextRun.Valid {
		if t, err := time.Parse(time.RFC3339Nano, nextRun.String); err == nil {
			report.NextRunAt = &t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		report.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		report.UpdatedAt = t
	}
	return report, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}
