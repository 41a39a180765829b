package authcore

import (
	"context"
	"strconv"
	"time"
)

// startSweeper launches the background loop that revokes sessions past
// their absolute lifetime. Expiry is already enforced at read time; the
// sweeper exists so abandoned sessions stop counting as live and their
// revocations reach audit and metrics in bounded time.
func (e *Engine) startSweeper() {
	e.sweepStop = make(chan struct{})
	e.sweepDone.Add(1)

	go func() {
		defer e.sweepDone.Done()

		ticker := time.NewTicker(e.config.Session.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.sweepOnce(context.Background())
			case <-e.sweepStop:
				return
			}
		}
	}()
}

// sweepOnce runs a single bounded sweep pass. Exported through SweepNow for
// deployments that schedule sweeping externally.
func (e *Engine) sweepOnce(ctx context.Context) int {
	swept, err := e.sessions.SweepExpired(ctx, time.Now().UTC(), e.config.Session.SweepBatchSize)
	if err != nil {
		e.metrics.Inc(MetricStorageFailure)
		return swept
	}

	if swept > 0 {
		e.metrics.Add(MetricSessionsSwept, uint64(swept))
		e.metrics.Add(MetricSessionRevoked, uint64(swept))
		e.emitAudit(ctx, auditEventSessionsSwept, true, "", "", nil, func() map[string]string {
			return map[string]string{"count": strconv.Itoa(swept)}
		})
	}

	return swept
}

// SweepNow runs one sweep pass immediately and returns how many sessions it
// revoked.
func (e *Engine) SweepNow(ctx context.Context) int {
	if e == nil || e.sessions == nil {
		return 0
	}
	return e.sweepOnce(ctx)
}
