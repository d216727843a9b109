package ping

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/domain/check"
	"github.com/upmon/upmon/internal/domain/notification"
	"github.com/upmon/upmon/internal/obs/retry"
	"github.com/upmon/upmon/internal/repository/postgres"
	"github.com/upmon/upmon/internal/schedule"
	"github.com/upmon/upmon/internal/services/dispatcher"
)

// errConflict marks a ping that raced with another writer; the usecase
// re-reads the check and tries again.
var errConflict = errors.New("ping apply conflict")

type Usecase struct {
	Checks   check.Repo
	Dispatch *dispatcher.Dispatcher
	Tx       postgres.Transactor
	Clock    notification.Clock
	Log      *zap.Logger
}

func NewUC(checks check.Repo, d *dispatcher.Dispatcher, tx postgres.Transactor, clock notification.Clock, log *zap.Logger) *Usecase {
	if clock == nil {
		clock = notification.SystemClock{}
	}
	return &Usecase{Checks: checks, Dispatch: d, Tx: tx, Clock: clock, Log: log}
}

// RecordPing registers a heartbeat for the check owning the ping key.
// CREATED and UP checks stay/become UP; a ping against a DOWN check is a
// recovery and dispatches a DOWN->UP alert in the same transaction. Pings
// against PAUSED checks and pings older than the recorded last ping are
// accepted and ignored. Returns whether the ping recovered a DOWN check.
func (u *Usecase) RecordPing(ctx context.Context, key string, at time.Time) (recovered bool, err error) {
	at = at.UTC()

	tr := otel.Tracer("ping.uc")
	ctx, span := tr.Start(ctx, "ping.record")
	defer span.End()

	err = retry.Do(ctx, func() error {
		c, err := u.Checks.GetByPingKey(ctx, key)
		if err != nil {
			return err
		}
		if c.Status == check.StatusPaused {
			u.Log.Debug("ping ignored, check paused", zap.Int64("check_id", c.ID))
			return nil
		}
		if c.LastPingAt != nil && !at.After(*c.LastPingAt) {
			// stale or duplicate delivery
			return nil
		}

		deadline, err := schedule.NextDeadline(c, &at)
		if err != nil {
			return err
		}
		recovery := c.Status == check.StatusDown

		txErr := u.Tx.WithTx(ctx, func(txCtx context.Context) error {
			ok, err := u.Checks.ApplyPing(txCtx, c.ID, at, check.StatusUp, c.Version, deadline)
			if err != nil {
				return err
			}
			if !ok {
				return errConflict
			}
			if recovery {
				return u.Dispatch.Dispatch(txCtx, c, check.StatusDown, check.StatusUp)
			}
			return nil
		})
		if txErr == nil && recovery {
			recovered = true
			u.Log.Info("check recovered", zap.Int64("check_id", c.ID), zap.Time("ping_at", at))
		}
		return txErr
	}, retry.ConflictPolicy("ping_apply", isConflict, u.Log))

	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Bool("ping.recovered", recovered))
	return recovered, err
}

func isConflict(err error) bool { return errors.Is(err, errConflict) }
