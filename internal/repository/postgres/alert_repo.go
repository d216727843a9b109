package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/upmon/upmon/internal/domain/check"
	"github.com/upmon/upmon/internal/domain/notification"
)

var _ notification.AlertRepo = (*AlertRepoImpl)(nil)

type AlertRepoImpl struct {
	db *DB
}

func NewAlertRepo(db *DB) *AlertRepoImpl { return &AlertRepoImpl{db: db} }

const (
	// Relies on the partial unique index over live alerts:
	//   uq_alert_live ON (notification_id, check_status)
	//   WHERE delivery_status IN ('QUEUED','RUNNING')
	qAlertEnqueue = `
INSERT INTO notification_alerts (check_id, notification_id, check_status,
                                 delivery_status, retries_remaining, next_attempt_at)
VALUES ($1, $2, $3, 'QUEUED', $4, NOW())
ON CONFLICT (notification_id, check_status) WHERE delivery_status IN ('QUEUED', 'RUNNING')
DO NOTHING
RETURNING id;`

	qAlertClaim = `
WITH cand AS (
    SELECT id
    FROM notification_alerts
    WHERE delivery_status = 'QUEUED'
      AND next_attempt_at <= $2
    ORDER BY created_at
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
UPDATE notification_alerts a
SET delivery_status = 'RUNNING',
    claimed_by = $1,
    claimed_at = $2
FROM cand
WHERE a.id = cand.id
RETURNING a.id;`

	qAlertLoad = `
SELECT a.id, a.check_id, a.notification_id, a.check_status, a.delivery_status,
       a.retries_remaining, a.next_attempt_at, a.claimed_by, a.claimed_at,
       a.created_at, a.finished_at,
       n.id, n.check_id, n.name, n.notification_type, n.email, n.url,
       n.max_retries, n.created_at, n.updated_at,
       c.id, c.name, c.status, c.last_ping_at
FROM notification_alerts a
JOIN notifications n ON n.id = a.notification_id
JOIN checks c ON c.id = a.check_id
WHERE a.id = $1;`

	// The claimed_by condition fences a worker that outlived its lease: once
	// the reaper hands the alert to someone else, the late outcome is dropped.
	qAlertFinish = `
UPDATE notification_alerts
SET delivery_status = $3,
    finished_at = $4,
    claimed_by = NULL,
    claimed_at = NULL
WHERE id = $1 AND delivery_status = 'RUNNING' AND claimed_by = $2;`

	qAlertRequeue = `
UPDATE notification_alerts
SET delivery_status = 'QUEUED',
    retries_remaining = $3,
    next_attempt_at = $4,
    claimed_by = NULL,
    claimed_at = NULL
WHERE id = $1 AND delivery_status = 'RUNNING' AND claimed_by = $2;`

	qAlertReclaimRequeue = `
UPDATE notification_alerts
SET delivery_status = 'QUEUED',
    retries_remaining = retries_remaining - 1,
    next_attempt_at = $2,
    claimed_by = NULL,
    claimed_at = NULL
WHERE delivery_status = 'RUNNING'
  AND claimed_at < $1
  AND retries_remaining > 0
RETURNING id;`

	qAlertReclaimFail = `
UPDATE notification_alerts
SET delivery_status = 'FAILED',
    finished_at = $2,
    claimed_by = NULL,
    claimed_at = NULL
WHERE delivery_status = 'RUNNING'
  AND claimed_at < $1
  AND retries_remaining <= 0
RETURNING id;`
)

func (r *AlertRepoImpl) Enqueue(ctx context.Context, checkID, notificationID int64, status check.Status, retries int32) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var id int64
	err := r.db.execQueryer(ctx).QueryRow(ctx, qAlertEnqueue, checkID, notificationID, status, retries).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// a live alert for this (notification, status) already exists
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("enqueue alert: %w", err)
	}
	return true, nil
}

func (r *AlertRepoImpl) ClaimNext(ctx context.Context, workerID string, now time.Time) (*notification.QueuedAlert, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, qAlertClaim, workerID, now.UTC()).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim alert: %w", err)
	}

	var qa notification.QueuedAlert
	if err := tx.QueryRow(ctx, qAlertLoad, id).Scan(
		&qa.Alert.ID, &qa.Alert.CheckID, &qa.Alert.NotificationID, &qa.Alert.CheckStatus, &qa.Alert.DeliveryStatus,
		&qa.Alert.RetriesRemaining, &qa.Alert.NextAttemptAt, &qa.Alert.ClaimedBy, &qa.Alert.ClaimedAt,
		&qa.Alert.CreatedAt, &qa.Alert.FinishedAt,
		&qa.Notification.ID, &qa.Notification.CheckID, &qa.Notification.Name, &qa.Notification.Type,
		&qa.Notification.Email, &qa.Notification.URL, &qa.Notification.MaxRetries,
		&qa.Notification.CreatedAt, &qa.Notification.UpdatedAt,
		&qa.Check.ID, &qa.Check.Name, &qa.Check.Status, &qa.Check.LastPingAt,
	); err != nil {
		return nil, fmt.Errorf("load claimed alert %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &qa, nil
}

func (r *AlertRepoImpl) Finish(ctx context.Context, alertID int64, claimedBy string, status notification.DeliveryStatus, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("finish alert %d: %q is not a terminal status", alertID, status)
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qAlertFinish, alertID, claimedBy, status, at.UTC())
	if err != nil {
		return fmt.Errorf("finish alert %d: %w", alertID, err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *AlertRepoImpl) Requeue(ctx context.Context, alertID int64, claimedBy string, retriesRemaining int32, nextAttempt time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qAlertRequeue, alertID, claimedBy, retriesRemaining, nextAttempt.UTC())
	if err != nil {
		return fmt.Errorf("requeue alert %d: %w", alertID, err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *AlertRepoImpl) ReclaimStale(ctx context.Context, lease time.Duration, now time.Time) (requeued, failed []int64, err error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cutoff := now.UTC().Add(-lease)
	eq := r.db.execQueryer(ctx)

	requeued, err = collectIDs(eq.Query(ctx, qAlertReclaimRequeue, cutoff, now.UTC()))
	if err != nil {
		return nil, nil, fmt.Errorf("reclaim requeue: %w", err)
	}
	failed, err = collectIDs(eq.Query(ctx, qAlertReclaimFail, cutoff, now.UTC()))
	if err != nil {
		return nil, nil, fmt.Errorf("reclaim fail: %w", err)
	}
	return requeued, failed, nil
}

func collectIDs(rows pgx.Rows, err error) ([]int64, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
