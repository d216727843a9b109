package notification

import (
	"context"
	"time"

	"github.com/upmon/upmon/internal/domain/check"
)

type Repo interface {
	Create(ctx context.Context, n *Notification) error
	ListForCheck(ctx context.Context, checkID int64) ([]*Notification, error)
}

type AlertRepo interface {
	// Enqueue inserts a QUEUED alert for (check, notification, status) unless
	// one is already live (QUEUED or RUNNING) for the same pair. Returns true
	// when a new alert was created.
	Enqueue(ctx context.Context, checkID, notificationID int64, status check.Status, retries int32) (bool, error)

	// ClaimNext atomically moves the oldest due QUEUED alert to RUNNING on
	// behalf of workerID. Returns nil when nothing is claimable.
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*QueuedAlert, error)

	// Finish records a terminal outcome for a RUNNING alert. The claimedBy
	// guard rejects a worker that lost its lease and was superseded.
	Finish(ctx context.Context, alertID int64, claimedBy string, status DeliveryStatus, at time.Time) error

	// Requeue returns a RUNNING alert to QUEUED for a later attempt, subject
	// to the same claimedBy guard as Finish.
	Requeue(ctx context.Context, alertID int64, claimedBy string, retriesRemaining int32, nextAttempt time.Time) error

	// ReclaimStale recovers RUNNING alerts whose lease expired: the lost
	// attempt counts like a transient failure, so alerts with retries left go
	// back to QUEUED with one retry burned and the rest become FAILED.
	ReclaimStale(ctx context.Context, lease time.Duration, now time.Time) (requeued, failed []int64, err error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
