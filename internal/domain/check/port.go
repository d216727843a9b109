package check

import (
	"context"
	"time"
)

type Repo interface {
	Create(ctx context.Context, c *Check) error
	GetByID(ctx context.Context, id int64) (*Check, error)
	GetByPingKey(ctx context.Context, key string) (*Check, error)

	// FetchDue returns non-deleted UP/DOWN checks whose stored deadline is at
	// or before now, oldest deadline first.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]*Check, error)

	// TryTransition conditionally moves the check from one status to another.
	// The update applies only if the current status and version still match;
	// it returns false when the row was changed concurrently.
	TryTransition(ctx context.Context, id int64, from, to Status, expectVersion int64, nextDeadline *time.Time) (bool, error)

	// ApplyPing records a ping observed at the given instant and sets the new
	// status and deadline. The update applies only if the version matches and
	// the stored last_ping_at does not already lie at or past the instant:
	// last_ping_at only ever moves forward.
	ApplyPing(ctx context.Context, id int64, at time.Time, to Status, expectVersion int64, nextDeadline *time.Time) (bool, error)

	ResetPingKey(ctx context.Context, id int64) (string, error)
	SoftDelete(ctx context.Context, id int64) error
}
