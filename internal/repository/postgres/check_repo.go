package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/upmon/upmon/internal/domain/check"
	"github.com/upmon/upmon/internal/schedule"
)

var _ check.Repo = (*CheckRepoImpl)(nil)

type CheckRepoImpl struct {
	db *DB
}

func NewCheckRepo(db *DB) *CheckRepoImpl { return &CheckRepoImpl{db: db} }

const checkColumns = `
id, project_id, ping_key, name, description, status,
schedule_type, ping_period, ping_period_unit, cron_expression,
grace_period, grace_period_unit,
last_ping_at, next_deadline_at, version,
deleted, deleted_at, created_at, updated_at`

const (
	qCheckInsert = `
INSERT INTO checks (project_id, ping_key, name, description, status,
                    schedule_type, ping_period, ping_period_unit, cron_expression,
                    grace_period, grace_period_unit)
VALUES ($1, $2, $3, $4, 'CREATED', $5, $6, $7, $8, $9, $10)
RETURNING ` + checkColumns + `;`

	qCheckGetByID = `
SELECT ` + checkColumns + `
FROM checks
WHERE id = $1 AND deleted = FALSE;`

	qCheckGetByPingKey = `
SELECT ` + checkColumns + `
FROM checks
WHERE ping_key = $1 AND deleted = FALSE;`

	qCheckFetchDue = `
SELECT ` + checkColumns + `
FROM checks
WHERE deleted = FALSE
  AND status IN ('UP', 'DOWN')
  AND next_deadline_at IS NOT NULL
  AND next_deadline_at <= $1
ORDER BY next_deadline_at
LIMIT $2;`

	qCheckTransition = `
UPDATE checks
SET status = $3,
    next_deadline_at = $5,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1
  AND status = $2
  AND version = $4
  AND deleted = FALSE;`

	qCheckApplyPing = `
UPDATE checks
SET status = $3,
    last_ping_at = $2,
    next_deadline_at = $5,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1
  AND version = $4
  AND deleted = FALSE
  AND (last_ping_at IS NULL OR last_ping_at < $2);`

	qCheckResetPingKey = `
UPDATE checks
SET ping_key = $2, updated_at = NOW()
WHERE id = $1 AND deleted = FALSE;`

	qCheckSoftDelete = `
UPDATE checks
SET deleted = TRUE, deleted_at = NOW(), updated_at = NOW()
WHERE id = $1 AND deleted = FALSE;`
)

func scanCheck(row pgx.Row, c *check.Check) error {
	if err := row.Scan(
		&c.ID,
		&c.ProjectID,
		&c.PingKey,
		&c.Name,
		&c.Description,
		&c.Status,
		&c.Schedule.Type,
		&c.Schedule.PingPeriod,
		&c.Schedule.PingPeriodUnit,
		&c.Schedule.CronExpression,
		&c.GracePeriod,
		&c.GracePeriodUnit,
		&c.LastPingAt,
		&c.NextDeadlineAt,
		&c.Version,
		&c.Deleted,
		&c.DeletedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan check: %w", err)
	}
	return nil
}

func (r *CheckRepoImpl) Create(ctx context.Context, c *check.Check) error {
	if err := schedule.Validate(c.Schedule); err != nil {
		return fmt.Errorf("validate schedule: %w", err)
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	row := r.db.execQueryer(ctx).QueryRow(ctx, qCheckInsert,
		c.ProjectID,
		uuid.NewString(),
		c.Name,
		c.Description,
		c.Schedule.Type,
		c.Schedule.PingPeriod,
		c.Schedule.PingPeriodUnit,
		c.Schedule.CronExpression,
		c.GracePeriod,
		c.GracePeriodUnit,
	)
	return scanCheck(row, c)
}

func (r *CheckRepoImpl) GetByID(ctx context.Context, id int64) (*check.Check, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var c check.Check
	if err := scanCheck(r.db.execQueryer(ctx).QueryRow(ctx, qCheckGetByID, id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CheckRepoImpl) GetByPingKey(ctx context.Context, key string) (*check.Check, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var c check.Check
	if err := scanCheck(r.db.execQueryer(ctx).QueryRow(ctx, qCheckGetByPingKey, key), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CheckRepoImpl) FetchDue(ctx context.Context, now time.Time, limit int) ([]*check.Check, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qCheckFetchDue, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due: %w", err)
	}
	defer rows.Close()

	var out []*check.Check
	for rows.Next() {
		var c check.Check
		if err := scanCheck(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *CheckRepoImpl) TryTransition(ctx context.Context, id int64, from, to check.Status, expectVersion int64, nextDeadline *time.Time) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qCheckTransition, id, from, to, expectVersion, utcPtr(nextDeadline))
	if err != nil {
		return false, fmt.Errorf("transition check %d: %w", id, err)
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *CheckRepoImpl) ApplyPing(ctx context.Context, id int64, at time.Time, to check.Status, expectVersion int64, nextDeadline *time.Time) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qCheckApplyPing, id, at.UTC(), to, expectVersion, utcPtr(nextDeadline))
	if err != nil {
		return false, fmt.Errorf("apply ping to check %d: %w", id, err)
	}
	return cmd.RowsAffected() > 0, nil
}

// ResetPingKey rotates the ping key: the new key replaces the old one, which
// is never reused.
func (r *CheckRepoImpl) ResetPingKey(ctx context.Context, id int64) (string, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	key := uuid.NewString()
	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qCheckResetPingKey, id, key)
	if err != nil {
		return "", fmt.Errorf("reset ping key: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return "", ErrNotFound
	}
	return key, nil
}

func (r *CheckRepoImpl) SoftDelete(ctx context.Context, id int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qCheckSoftDelete, id)
	if err != nil {
		return fmt.Errorf("delete check: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
