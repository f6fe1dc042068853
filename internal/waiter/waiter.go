// Package waiter provides the cancellable polling primitive shared by the
// cleanup drain wait and the reconciler's stabilization wait.
package waiter

import (
	"context"
	"errors"
	"time"
)

// ErrBudgetExceeded is returned when the probe does not report done within
// the wait budget. The remote operation keeps converging on its own; callers
// must treat this as an observation failure, not a remote failure.
var ErrBudgetExceeded = errors.New("wait budget exceeded")

// Probe reports whether the awaited condition holds. It must fetch remote
// state fresh on every call; nothing is cached between polls.
type Probe func(ctx context.Context) (done bool, err error)

// Wait polls probe every interval until it reports done, the budget elapses,
// or ctx is cancelled. A budget of zero means unbounded. The first probe runs
// immediately.
func Wait(ctx context.Context, interval, budget time.Duration, probe Probe) error {
	if interval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}

	var deadline time.Time
	if budget > 0 {
		deadline = time.Now().Add(budget)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := probe(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if !deadline.IsZero() && !time.Now().Add(interval).Before(deadline) {
			return ErrBudgetExceeded
		}
		if !sleepWithContext(ctx, interval) {
			return ctx.Err()
		}
	}
}

func sleepWithContext(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
