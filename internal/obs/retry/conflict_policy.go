package retry

import (
	"time"

	"go.uber.org/zap"
)

// ConflictPolicy is the bounded retry used around optimistic conditional
// updates: a lost version race is re-read and re-applied a few times with a
// short wait, anything else fails fast.
func ConflictPolicy(name string, isConflict func(error) bool, log *zap.Logger) Policy {
	return Policy{
		Name:      name,
		Attempts:  4,
		Backoff:   ExpoJitter{Base: 10 * time.Millisecond, Max: 200 * time.Millisecond, Jitter: 0.5},
		Retryable: isConflict,
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Debug("conditional update conflict", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
	}
}
