package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponentialBackoffWithJitter_Wait(t *testing.T) {
	s := NewExponentialBackoffWithJitter(time.Millisecond, 5*time.Millisecond, 3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.Wait(ctx); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}
	if err := s.Wait(ctx); !errors.Is(err, ErrRetriesExceeded) {
		t.Errorf("expected ErrRetriesExceeded, got %v", err)
	}
}

func TestNoRetry(t *testing.T) {
	if err := NoRetry().Wait(context.Background()); !errors.Is(err, ErrRetriesExceeded) {
		t.Errorf("expected ErrRetriesExceeded, got %v", err)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	s := NewExponentialBackoffWithJitter(time.Hour, time.Hour, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNextDelay_LargeAttempt(t *testing.T) {
	maxDelay := 30 * time.Second
	for _, attempt := range []uint{10, 62, 63, 64, 200} {
		s := NewExponentialBackoffWithJitter(500*time.Millisecond, maxDelay, attempt+1).(*exponentialBackoffWithJitter)
		s.currentAttempt = attempt
		d := s.nextDelay()
		if d <= 0 || d > maxDelay {
			t.Errorf("attempt %d: delay %v outside (0, %v]", attempt, d, maxDelay)
		}
	}
}
