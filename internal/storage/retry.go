package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/breathing.report/internal/timeutil"
)

// retryWithBackoff runs fn up to attempts times, doubling the wait between
// tries starting from base. It returns the number of attempts consumed and
// the last error. Waits go through the clock so tests can drive them without
// sleeping. A canceled context stops further tries; the last failure is
// still returned as the cause worth recording.
func retryWithBackoff(ctx context.Context, clock timeutil.Clock, attempts int, base time.Duration, fn func(context.Context) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	wait := base
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return attempt, lastErr
		case <-clock.After(wait):
		}
		wait *= 2
	}
	return attempts, lastErr
}

// uploadAndPin pushes artifact bytes to the content store and pins the
// resulting cid, retrying transient failures with exponential backoff. It
// returns the cid, the number of attempts consumed and the final error,
// which wraps ErrStorageUnavailable once retries are exhausted.
func (s *Store) uploadAndPin(ctx context.Context, data []byte) (string, int, error) {
	var cid string
	attempts, err := retryWithBackoff(ctx, s.clock, s.cfg.GetUploadAttempts(), s.cfg.GetRetryBase(), func(ctx context.Context) error {
		c, err := s.cas.Put(ctx, data)
		if err != nil {
			return fmt.Errorf("failed to upload artifact: %w", err)
		}
		if err := s.cas.Pin(ctx, c); err != nil {
			return fmt.Errorf("failed to pin %s: %w", c, err)
		}
		cid = c
		return nil
	})
	if err != nil {
		return "", attempts, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return cid, attempts, nil
}
