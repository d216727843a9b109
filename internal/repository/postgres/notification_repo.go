package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/upmon/upmon/internal/domain/notification"
)

var _ notification.Repo = (*NotificationRepoImpl)(nil)

type NotificationRepoImpl struct {
	db *DB
}

func NewNotificationRepo(db *DB) *NotificationRepoImpl { return &NotificationRepoImpl{db: db} }

const (
	qNotifInsert = `
INSERT INTO notifications (check_id, name, notification_type, email, url, max_retries)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, check_id, name, notification_type, email, url, max_retries, created_at, updated_at;`

	qNotifListForCheck = `
SELECT id, check_id, name, notification_type, email, url, max_retries, created_at, updated_at
FROM notifications
WHERE check_id = $1 AND deleted = FALSE
ORDER BY id;`
)

func scanNotification(row pgx.Row, n *notification.Notification) error {
	if err := row.Scan(
		&n.ID,
		&n.CheckID,
		&n.Name,
		&n.Type,
		&n.Email,
		&n.URL,
		&n.MaxRetries,
		&n.CreatedAt,
		&n.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan notification: %w", err)
	}
	return nil
}

func (r *NotificationRepoImpl) Create(ctx context.Context, n *notification.Notification) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	row := r.db.execQueryer(ctx).QueryRow(ctx, qNotifInsert,
		n.CheckID, n.Name, n.Type, n.Email, n.URL, n.MaxRetries)
	return scanNotification(row, n)
}

func (r *NotificationRepoImpl) ListForCheck(ctx context.Context, checkID int64) ([]*notification.Notification, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qNotifListForCheck, checkID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*notification.Notification
	for rows.Next() {
		var n notification.Notification
		if err := scanNotification(rows, &n); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
