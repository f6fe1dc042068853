package waiter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitSucceedsAfterPolls(t *testing.T) {
	polls := 0
	err := Wait(context.Background(), time.Millisecond, 0, func(context.Context) (bool, error) {
		polls++
		return polls >= 3, nil
	})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if polls != 3 {
		t.Fatalf("expected 3 polls, got %d", polls)
	}
}

func TestWaitFirstProbeImmediate(t *testing.T) {
	start := time.Now()
	err := Wait(context.Background(), time.Hour, 0, func(context.Context) (bool, error) {
		return true, nil
	})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("first probe should run without waiting an interval")
	}
}

func TestWaitBudgetExceeded(t *testing.T) {
	polls := 0
	err := Wait(context.Background(), 5*time.Millisecond, 20*time.Millisecond, func(context.Context) (bool, error) {
		polls++
		return false, nil
	})
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if polls == 0 {
		t.Fatal("expected at least one poll before giving up")
	}
}

func TestWaitProbeErrorStopsImmediately(t *testing.T) {
	boom := errors.New("boom")
	err := Wait(context.Background(), time.Millisecond, 0, func(context.Context) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected probe error, got %v", err)
	}
}

func TestWaitCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Wait(ctx, 10*time.Millisecond, 0, func(context.Context) (bool, error) {
			return false, nil
		})
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return promptly after cancellation")
	}
}

func TestWaitRejectsZeroInterval(t *testing.T) {
	err := Wait(context.Background(), 0, 0, func(context.Context) (bool, error) {
		return true, nil
	})
	if err == nil {
		t.Fatal("expected error for zero interval")
	}
}
