package scheduler

import (
	"context"
	"fmt"
	"time"
)

// ErrDeadlineExceeded is returned by RepeatUntil when the deadline elapses
// before targetReached reports true.
type ErrDeadlineExceeded struct {
	Deadline time.Duration
}

func (e ErrDeadlineExceeded) Error() string {
	return fmt.Sprintf("deadline of %s exceeded before target reached", e.Deadline)
}

// RepeatUntil is the deadline-bounded retry at the core of every
// target-driven action loop (wake/shutdown/reboot, SNMP powerfeed write).
// While targetReached() is false, it calls attempt() and sleeps
// retryInterval, then checks targetReached() again; it returns nil as
// soon as targetReached() is true, and ErrDeadlineExceeded once deadline
// has elapsed. ctx cancellation aborts immediately with ctx.Err().
//
// attempt's own error is not fatal to the loop — an adapter failure is
// just another reason to retry on the next tick; only the outer ctx and
// deadline end the loop early. The caller is responsible for surfacing
// attempt errors as device error events if desired, via onAttemptErr.
func RepeatUntil(
	ctx context.Context,
	targetReached func() bool,
	attempt func(context.Context) error,
	retryInterval time.Duration,
	deadline time.Duration,
	onAttemptErr func(error),
) error {
	deadlineAt := time.Now().Add(deadline)

	for {
		if targetReached() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadlineAt) {
			return ErrDeadlineExceeded{Deadline: deadline}
		}

		if err := attempt(ctx); err != nil && onAttemptErr != nil {
			onAttemptErr(err)
		}

		if targetReached() {
			return nil
		}

		timer := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
