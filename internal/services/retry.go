package services

import (
	"context"
	"time"

	"github.com/calebmoran/longbox-backend/internal/apperr"
	"github.com/calebmoran/longbox-backend/internal/db"
	"github.com/calebmoran/longbox-backend/internal/logger"
)

const (
	deadlockRetryMax  = 3
	deadlockRetryBase = 100 * time.Millisecond
)

// withDeadlockRetry runs op, retrying store-reported deadlocks with
// exponential backoff (100ms, 200ms, 400ms). Domain errors pass through on
// the first occurrence; exhausted retries surface as TransientBackend.
func withDeadlockRetry(ctx context.Context, log *logger.Logger, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= deadlockRetryMax; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !db.IsDeadlock(err) {
			return err
		}
		lastErr = err
		if attempt == deadlockRetryMax {
			break
		}
		backoff := deadlockRetryBase << (attempt - 1)
		log.Warn("store deadlock, retrying", "attempt", attempt, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return apperr.TransientBackend(lastErr)
}
