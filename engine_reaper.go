package authcore

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ReapResult counts the rows removed by one reaper pass.
type ReapResult struct {
	RefreshRecords int64
	Sessions       int64
}

// Reap deletes expired refresh records and deactivates expired sessions.
// Correctness never depends on it; expiry is enforced lazily on lookup.
func (e *Engine) Reap(ctx context.Context) (ReapResult, error) {
	if !e.ready() {
		return ReapResult{}, ErrEngineNotReady
	}
	var res ReapResult

	bctx, cancel := e.bound(ctx)
	n, err := e.refreshes.DeleteExpired(bctx, e.now())
	cancel()
	if err != nil {
		return res, e.storeFailure("reap refresh records", err)
	}
	res.RefreshRecords = n

	bctx, cancel = e.bound(ctx)
	n, err = e.sessions.Reap(bctx)
	cancel()
	if err != nil {
		return res, e.storeFailure("reap sessions", err)
	}
	res.Sessions = n
	e.metrics.Add(MetricSessionsReaped, uint64(n))
	return res, nil
}

// RunReaper calls Reap every Session.ReapInterval until ctx is done. A
// zero interval disables it.
func (e *Engine) RunReaper(ctx context.Context) {
	interval := e.config.Session.ReapInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := e.Reap(ctx)
			if err != nil {
				e.logger.Warn("reaper pass failed", zap.Error(err))
				continue
			}
			e.logger.Debug("reaper pass",
				zap.Int64("refresh_records", res.RefreshRecords),
				zap.Int64("sessions", res.Sessions),
			)
		}
	}
}
