package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Poller watches the store for the visualization artifact derived from
// an execution result. Visualization generation is best-effort, so
// running out of attempts is a normal outcome, not an error.
type Poller struct {
	store       Store
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewPoller constructs a poller reading every interval, up to
// maxAttempts times per Await call.
func NewPoller(store Store, interval time.Duration, maxAttempts int, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 15
	}
	return &Poller{
		store:       store,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Await polls for the artifact attached to resultID and returns it as
// soon as it appears. After maxAttempts reads with no artifact it
// returns (nil, nil); callers wanting another window issue a fresh
// Await. Cancelling ctx stops the polling immediately, so the poller
// never outlives its caller.
func (p *Poller) Await(ctx context.Context, resultID string) (*VisualizationArtifact, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		artifact, err := p.store.GetVisualization(ctx, resultID)
		if err != nil {
			return nil, fmt.Errorf("read visualization: %w", err)
		}
		if artifact != nil {
			return artifact, nil
		}
	}
	p.logger.Debug("no visualization after attempt budget", "result_id", resultID, "attempts", p.maxAttempts)
	return nil, nil
}
