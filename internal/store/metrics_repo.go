package store

import (
	"context"
	"fmt"
	"time"
)

// IncrementMetric adds delta to the aggregate counter for metricType.
// Increments are replay-tolerant, which is what lets the metrics
// batcher retry a whole batch after a partial failure.
func (s *Store) IncrementMetric(ctx context.Context, metricType string, delta int) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO usage_metrics (type, count, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(type) DO UPDATE SET
			count = count + excluded.count,
			updated_at = excluded.updated_at
	`, metricType, delta, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("increment metric %s: %w", metricType, err)
	}
	return nil
}

// MetricCounts returns every aggregate counter keyed by event type.
func (s *Store) MetricCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT type, count FROM usage_metrics`)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var metricType string
		var count int64
		if err := rows.Scan(&metricType, &count); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		counts[metricType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}
