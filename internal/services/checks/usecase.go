package checks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/domain/check"
	"github.com/upmon/upmon/internal/domain/notification"
	"github.com/upmon/upmon/internal/obs/retry"
	"github.com/upmon/upmon/internal/schedule"
)

// errLostRace marks a conditional update that found the row already changed
// under us; the caller re-reads and retries.
var errLostRace = errors.New("lost transition race")

// ErrNotPaused is returned when resume is requested for a check that is not
// paused.
var ErrNotPaused = errors.New("check is not paused")

// ErrInvalidNotification is returned when a notification is missing the
// target its type requires.
var ErrInvalidNotification = errors.New("invalid notification")

// Usecase covers check and notification management: everything that mutates
// configuration rather than reacting to pings and deadlines.
type Usecase struct {
	Checks check.Repo
	Notifs notification.Repo
	Clock  notification.Clock
	Log    *zap.Logger
}

func NewUC(checks check.Repo, notifs notification.Repo, clock notification.Clock, log *zap.Logger) *Usecase {
	if clock == nil {
		clock = notification.SystemClock{}
	}
	return &Usecase{Checks: checks, Notifs: notifs, Clock: clock, Log: log}
}

func (u *Usecase) Create(ctx context.Context, c *check.Check) error {
	if c.GracePeriodUnit == "" {
		c.GracePeriodUnit = check.UnitMinutes
	}
	if err := u.Checks.Create(ctx, c); err != nil {
		return err
	}
	u.Log.Info("check created", zap.Int64("check_id", c.ID), zap.String("name", c.Name))
	return nil
}

func (u *Usecase) Get(ctx context.Context, id int64) (*check.Check, error) {
	return u.Checks.GetByID(ctx, id)
}

// Pause suspends evaluation of the check until resume. Allowed from CREATED,
// UP, and DOWN; pausing a paused check is a no-op.
func (u *Usecase) Pause(ctx context.Context, id int64) error {
	return retry.Do(ctx, func() error {
		c, err := u.Checks.GetByID(ctx, id)
		if err != nil {
			return err
		}
		switch c.Status {
		case check.StatusPaused:
			return nil
		case check.StatusCreated, check.StatusUp, check.StatusDown:
		default:
			return fmt.Errorf("cannot pause check in status %q", c.Status)
		}
		ok, err := u.Checks.TryTransition(ctx, c.ID, c.Status, check.StatusPaused, c.Version, nil)
		if err != nil {
			return err
		}
		if !ok {
			return errLostRace
		}
		return nil
	}, retry.ConflictPolicy("check_pause", isLostRace, u.Log))
}

// Resume reactivates a paused check with a fresh baseline: the check is
// treated as if it had just been pinged at the resume instant, so it comes
// back UP (or back to CREATED when it has never been pinged) instead of
// immediately alerting on a stale schedule.
func (u *Usecase) Resume(ctx context.Context, id int64) (*check.Check, error) {
	var out *check.Check
	err := retry.Do(ctx, func() error {
		c, err := u.Checks.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != check.StatusPaused {
			return ErrNotPaused
		}

		if c.LastPingAt == nil {
			ok, err := u.Checks.TryTransition(ctx, c.ID, check.StatusPaused, check.StatusCreated, c.Version, nil)
			if err != nil {
				return err
			}
			if !ok {
				return errLostRace
			}
		} else {
			now := u.Clock.Now().UTC()
			deadline, err := schedule.NextDeadline(c, &now)
			if err != nil {
				return err
			}
			ok, err := u.Checks.ApplyPing(ctx, c.ID, now, check.StatusUp, c.Version, deadline)
			if err != nil {
				return err
			}
			if !ok {
				return errLostRace
			}
		}

		out, err = u.Checks.GetByID(ctx, id)
		return err
	}, retry.ConflictPolicy("check_resume", isLostRace, u.Log))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RotateKey replaces the check's ping key; the old key stops working
// immediately.
func (u *Usecase) RotateKey(ctx context.Context, id int64) (string, error) {
	key, err := u.Checks.ResetPingKey(ctx, id)
	if err != nil {
		return "", err
	}
	u.Log.Info("ping key rotated", zap.Int64("check_id", id))
	return key, nil
}

// Delete soft-deletes the check. Deleted checks disappear from lookups and
// sweeps but keep their rows for audit.
func (u *Usecase) Delete(ctx context.Context, id int64) error {
	if err := u.Checks.SoftDelete(ctx, id); err != nil {
		return err
	}
	u.Log.Info("check deleted", zap.Int64("check_id", id))
	return nil
}

func (u *Usecase) AddNotification(ctx context.Context, n *notification.Notification) error {
	switch n.Type {
	case notification.TypeEmail:
		if n.Email == "" {
			return fmt.Errorf("%w: email address required", ErrInvalidNotification)
		}
	case notification.TypeWebhook:
		if n.URL == "" {
			return fmt.Errorf("%w: url required", ErrInvalidNotification)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidNotification, n.Type)
	}
	if n.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be non-negative", ErrInvalidNotification)
	}
	if _, err := u.Checks.GetByID(ctx, n.CheckID); err != nil {
		return err
	}
	return u.Notifs.Create(ctx, n)
}

func (u *Usecase) ListNotifications(ctx context.Context, checkID int64) ([]*notification.Notification, error) {
	return u.Notifs.ListForCheck(ctx, checkID)
}

func isLostRace(err error) bool { return errors.Is(err, errLostRace) }
