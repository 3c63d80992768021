package ledger

import (
	"context"
	"strings"
	"time"
)

const maxAttempts = 3

// WithRetry runs fn up to maxAttempts times, backing off between attempts
// when the database reports a lost serialization race. Domain errors pass
// through untouched; a race that survives every attempt surfaces as
// ErrConflict so callers can treat it as retryable. Components that run
// their own transactions against the same database reuse this policy so
// every mutating operation shares one conflict behavior.
func (l *Ledger) WithRetry(ctx context.Context, fn func() error) error {
	backoff := 10 * time.Millisecond
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			l.metrics.IncConflictRetry()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err = fn()
		if err == nil || !isSerializationError(err) {
			return err
		}
	}
	return ErrConflict
}

// isSerializationError recognises the retryable conflict shapes of the two
// supported drivers: postgres serialization/deadlock failures and sqlite
// busy/locked errors.
func isSerializationError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "SQLSTATE 40001"), // serialization_failure
		strings.Contains(msg, "SQLSTATE 40P01"), // deadlock_detected
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"):
		return true
	}
	return false
}
