package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reportd/internal/core"
)

var ErrResultNotFound = errors.New("result not found")

func (s *Store) InsertResult(ctx context.Context, result *core.ExecutionResult) error {
	now := time.Now().UTC()
	result.CreatedAt = now
	metadata, err := encodeMetadata(result.Metadata)
	if err != nil {
		return fmt.Errorf("encode result metadata: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO execution_results (id, report_id, content, response_time_ms, metadata, visualization_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, result.ID, result.ReportID, result.Content, result.ResponseTimeMs, metadata,
		nullableString(result.VisualizationData), result.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, id string) (*core.ExecutionResult, error) {
	row := s.DB.QueryRowContext(ctx, resultSelect+` WHERE id = ?`, id)
	result, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return result, nil
}

// ListResults returns a report's results, newest first.
func (s *Store) ListResults(ctx context.Context, reportID string, limit, offset int) ([]*core.ExecutionResult, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.DB.QueryContext(ctx, resultSelect+`
		WHERE report_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, reportID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()
	var results []*core.ExecutionResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// SetVisualization attaches the derived visualization payload to a result.
func (s *Store) SetVisualization(ctx context.Context, resultID, data string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE execution_results
		SET visualization_data = ?
		WHERE id = ?
	`, data, resultID)
	if err != nil {
		return fmt.Errorf("set visualization: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrResultNotFound
	}
	return nil
}

// GetVisualization returns the artifact attached to a result, or nil
// when the result exists but no visualization has been produced yet.
func (s *Store) GetVisualization(ctx context.Context, resultID string) (*core.VisualizationArtifact, error) {
	var data sql.NullString
	err := s.DB.QueryRowContext(ctx, `
		SELECT visualization_data FROM execution_results WHERE id = ?
	`, resultID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get visualization: %w", err)
	}
	if !data.Valid {
		return nil, nil
	}
	return &core.VisualizationArtifact{ResultID: resultID, Data: data.String}, nil
}

const resultSelect = `
	SELECT id, report_id, content, response_time_ms, metadata, visualization_data, created_at
	FROM execution_results`

func scanResult(scanner interface {
	Scan(dest ...any) error
}) (*core.ExecutionResult, error) {
	var (
		id        string
		reportID  string
		content   string
		elapsed   int64
		metadata  sql.NullString
		viz       sql.NullString
		createdAt string
	)
	if err := scanner.Scan(&id, &reportID, &content, &elapsed, &metadata, &viz, &createdAt); err != nil {
		return nil, fmt.Errorf("scan result: %w", err)
	}
	result := &core.ExecutionResult{
		ID:             id,
		ReportID:       reportID,
		Content:        content,
		ResponseTimeMs: elapsed,
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &result.Metadata); err != nil {
			return nil, fmt.Errorf("decode result metadata: %w", err)
		}
	}
	if viz.Valid {
		result.VisualizationData = &viz.String
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		result.CreatedAt = t
	}
	return result, nil
}

func encodeMetadata(metadata map[string]string) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
