package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/logging"
)

// Retry calls fn until it succeeds, attempts are exhausted, or ctx is done.
// It waits delay between attempts and returns the last error.
func Retry(ctx context.Context, attempts int, delay time.Duration, logger logging.Logger, fn func(ctx context.Context) error) error {
	logger = logging.OrNop(logger)
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Debug("Attempt failed",
			logging.Int("attempt", attempt),
			logging.Int("attempts", attempts),
			logging.Error(err))

		if attempt == attempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}
