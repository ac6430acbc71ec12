package device

import (
	"context"
	"time"

	"fleethub/internal/scheduler"
)

// runActionLoop is the shared template every wake/shutdown/reboot action
// follows: while targetReached() is false, call attempt, sleep interval,
// until the target is reached or deadline elapses. onDone always runs,
// whether the loop succeeded, timed out, or was cancelled by a
// superseding action.
func runActionLoop(ctx context.Context, b *Base, should string, targetReached func() bool, attempt func(context.Context) error, interval, deadline time.Duration, onDone func()) {
	defer onDone()
	scheduler.RepeatUntil(ctx, targetReached, attempt, interval, deadline, func(err error) {
		b.reportError(should, err)
	})
	// Clear the should_<action> target when the loop ended on its own
	// (target reached or deadline elapsed). A cancelled loop leaves it
	// alone: the superseding caller's Cancel() has already cleared every
	// flag and may have re-set its own, which clearing here would clobber.
	if ctx.Err() == nil {
		b.setShouldFlag(should, false)
	}
}
