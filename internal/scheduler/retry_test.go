package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestRepeatUntilSucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	reached := false
	err := RepeatUntil(
		context.Background(),
		func() bool { return reached },
		func(ctx context.Context) error {
			attempts++
			if attempts >= 3 {
				reached = true
			}
			return nil
		},
		5*time.Millisecond,
		time.Second,
		nil,
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRepeatUntilReturnsImmediatelyWhenAlreadyAtTarget(t *testing.T) {
	calls := 0
	err := RepeatUntil(
		context.Background(),
		func() bool { return true },
		func(ctx context.Context) error { calls++; return nil },
		time.Millisecond,
		time.Second,
		nil,
	)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("attempt should not run when target already reached, got %d calls", calls)
	}
}

func TestRepeatUntilTimesOut(t *testing.T) {
	err := RepeatUntil(
		context.Background(),
		func() bool { return false },
		func(ctx context.Context) error { return nil },
		2*time.Millisecond,
		10*time.Millisecond,
		nil,
	)
	if _, ok := err.(ErrDeadlineExceeded); !ok {
		t.Fatalf("expected ErrDeadlineExceeded, got %v", err)
	}
}

func TestRepeatUntilRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RepeatUntil(
		ctx,
		func() bool { return false },
		func(ctx context.Context) error { return nil },
		time.Millisecond,
		time.Second,
		nil,
	)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRepeatUntilReportsAttemptErrors(t *testing.T) {
	var reportedErrs []error
	attempts := 0
	reached := false
	_ = RepeatUntil(
		context.Background(),
		func() bool { return reached },
		func(ctx context.Context) error {
			attempts++
			if attempts == 2 {
				reached = true
				return nil
			}
			return context.DeadlineExceeded
		},
		time.Millisecond,
		time.Second,
		func(err error) { reportedErrs = append(reportedErrs, err) },
	)
	if len(reportedErrs) != 1 {
		t.Fatalf("expected 1 reported attempt error, got %d", len(reportedErrs))
	}
}

func TestMemoizerSkipsWithinInterval(t *testing.T) {
	m := &Memoizer{interval: time.Hour, lastCall: time.Now()}
	calls := 0
	_ = m.Run(false, func() error { calls++; return nil })
	if calls != 0 {
		t.Fatalf("expected no call within interval, got %d", calls)
	}
}

func TestMemoizerRunsWhenImmediate(t *testing.T) {
	m := &Memoizer{interval: time.Hour, lastCall: time.Now()}
	calls := 0
	_ = m.Run(true, func() error { calls++; return nil })
	if calls != 1 {
		t.Fatalf("expected immediate call, got %d", calls)
	}
}

func TestMemoizerRunsAfterIntervalElapses(t *testing.T) {
	m := &Memoizer{interval: time.Millisecond, lastCall: time.Now().Add(-time.Second)}
	calls := 0
	_ = m.Run(false, func() error { calls++; return nil })
	if calls != 1 {
		t.Fatalf("expected call after interval elapsed, got %d", calls)
	}
}

func TestRunTimedLoopStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan struct{})
	go func() {
		RunTimedLoop(ctx, discardLogger(), time.Millisecond, func(context.Context) {
			calls++
			if calls == 3 {
				cancel()
			}
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunTimedLoop did not stop after cancellation")
	}
	if calls < 3 {
		t.Fatalf("expected at least 3 iterations, got %d", calls)
	}
}
