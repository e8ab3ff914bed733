package backoff

import (
	"context"
	"errors"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrRetriesExceeded is returned by Wait once the strategy has no attempts left.
var ErrRetriesExceeded = errors.New("maximum retries exceeded")

// Strategy decides how long to wait before a failed operation is attempted again.
type Strategy interface {
	Wait(ctx context.Context) error
}

// exponentialBackoffWithJitter implements the Strategy interface
type exponentialBackoffWithJitter struct {
	baseDelay      time.Duration // Base delay between retries (e.g., 100ms)
	maxDelay       time.Duration // Upper bound for a single delay
	currentAttempt uint
	maxAttempt     uint
	randSource     *rand.Rand // Random source for jittering
}

// NewExponentialBackoffWithJitter creates a new instance of exponentialBackoffWithJitter
func NewExponentialBackoffWithJitter(baseDelay, maxDelay time.Duration, maxAttempts uint) Strategy {
	source := rand.NewSource(time.Now().UnixNano())
	return &exponentialBackoffWithJitter{
		baseDelay:      baseDelay,
		maxDelay:       maxDelay,
		currentAttempt: 0,
		maxAttempt:     maxAttempts,
		randSource:     rand.New(source),
	}
}

// Wait blocks for the next backoff delay or until ctx is done.
func (e *exponentialBackoffWithJitter) Wait(ctx context.Context) error {
	if e.currentAttempt >= e.maxAttempt {
		return ErrRetriesExceeded
	}
	delay := e.nextDelay()
	log.Debugf("waiting for %v (attempt %d/%d)", delay, e.currentAttempt+1, e.maxAttempt)
	e.currentAttempt++
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nextDelay returns 2^attempt * baseDelay with jitter, capped at maxDelay.
func (e *exponentialBackoffWithJitter) nextDelay() time.Duration {
	delay := e.baseDelay
	// doubling stops at maxDelay so large attempt counts cannot overflow
	for i := uint(0); i < e.currentAttempt && delay > 0 && delay <= e.maxDelay/2; i++ {
		delay *= 2
	}
	if delay > 0 {
		// jitter in both directions, between -delay/2 and +delay/2
		jitter := time.Duration(e.randSource.Int63n(int64(delay)))
		delay = delay + jitter - (delay / 2)
	}
	if delay > e.maxDelay {
		delay = e.maxDelay
	}
	return delay
}

// NoRetry returns a Strategy that never allows another attempt.
func NoRetry() Strategy {
	return NewExponentialBackoffWithJitter(0, 0, 0)
}

// DefaultBackoff returns a Strategy that allows maxAttempts retries with sensible delays.
func DefaultBackoff(maxAttempts uint) Strategy {
	const defaultBaseDelay = 500 * time.Millisecond
	const defaultMaxDelay = 30 * time.Second
	return NewExponentialBackoffWithJitter(defaultBaseDelay, defaultMaxDelay, maxAttempts)
}
