package scheduler

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// pauseController abstracts how the scheduler waits between checks.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// jitterSource draws the base delay between two bounds.
type jitterSource interface {
	Between(lo, hi time.Duration) time.Duration
}

type cryptoJitter struct{}

// Between returns a uniformly distributed duration in [lo, hi].
func (cryptoJitter) Between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := big.NewInt(int64(hi-lo) + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return lo + (hi-lo)/2
	}
	return lo + time.Duration(n.Int64())
}

// pacingDelay scales the base delay by the backoff multiplier and deducts the
// time already spent on the check, never returning less than minPause.
func pacingDelay(base time.Duration, multiplier float64, elapsed time.Duration) time.Duration {
	delay := time.Duration(float64(base)*multiplier) - elapsed
	if delay < minPause {
		return minPause
	}
	return delay
}
