package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// RunTimedLoop calls fn repeatedly, sleeping for interval minus however
// long fn took, clamped to zero, until ctx is cancelled. This is the
// manager's top-level device-update loop (125ms by default). An overrun
// (fn took longer than interval) is logged rather than allowed to
// silently stack up calls.
func RunTimedLoop(ctx context.Context, logger *slog.Logger, interval time.Duration, fn func(context.Context)) {
	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		fn(ctx)
		elapsed := time.Since(start)
		remaining := interval - elapsed
		if remaining < 0 {
			logger.Warn("timed loop overrun", "interval", interval, "elapsed", elapsed)
			remaining = 0
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
