package orchestrator

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// backoffDelay computes the wait before the next attempt after attempt n
// (1-based): the base delay doubled per attempt with ±10% jitter, never
// below the base.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	jitter := delay * 0.1
	delay += jitter * (rand.Float64()*2 - 1)

	wait := time.Duration(delay)
	if wait < base {
		wait = base
	}
	return wait
}

// withRetries runs fn up to attempts times, backing off between failures.
// fn reports whether its error is worth another attempt; success and
// non-retriable errors return immediately. Cancellation aborts the backoff
// wait and returns the context error.
func withRetries(ctx context.Context, logger zerolog.Logger, attempts int, base time.Duration, fn func(context.Context) (bool, error)) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var retriable bool
		retriable, err = fn(ctx)
		if err == nil || !retriable {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := backoffDelay(base, attempt)
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("backoff", wait).
			Msg("Stage attempt failed, backing off")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
