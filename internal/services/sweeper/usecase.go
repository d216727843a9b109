package sweeper

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/domain/check"
	"github.com/upmon/upmon/internal/domain/notification"
	"github.com/upmon/upmon/internal/repository/postgres"
	"github.com/upmon/upmon/internal/schedule"
	"github.com/upmon/upmon/internal/services/dispatcher"
)

// errLostRace marks a conditional update that found the row already changed.
// The winner's state is the correct one, so the loser just walks away.
var errLostRace = errors.New("lost transition race")

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

// Tick runs one sweep: fetch due checks and conditionally move UP checks past
// their deadline to DOWN, dispatching alerts for each transition. Checks that
// lost a race against a concurrent ping are skipped silently.
func (u *Usecase) Tick(ctx context.Context, limit int) (fetched, downed, skipped, failed int, err error) {
	if limit <= 0 {
		limit = 100
	}
	now := u.Clock.Now().UTC()

	tr := otel.Tracer("sweeper.uc")
	ctx, span := tr.Start(ctx, "sweeper.tick",
		trace.WithAttributes(attribute.Int("batch.limit", limit)),
	)
	defer span.End()

	due, err := u.Checks.FetchDue(ctx, now, limit)
	if err != nil {
		span.RecordError(err)
		return 0, 0, 0, 0, fmt.Errorf("fetch due: %w", err)
	}
	span.SetAttributes(attribute.Int("batch.fetched", len(due)))

	for _, c := range due {
		if c.Status != check.StatusUp {
			// already DOWN, nothing left to transition
			skipped++
			continue
		}

		// Recompute the deadline from the schedule; the stored value is only
		// a scan index.
		deadline, derr := schedule.NextDeadline(c, c.LastPingAt)
		if derr != nil {
			failed++
			u.Log.Warn("deadline computation failed", zap.Int64("check_id", c.ID), zap.Error(derr))
			continue
		}
		if deadline == nil || !now.After(*deadline) {
			skipped++
			continue
		}

		terr := u.Tx.WithTx(ctx, func(txCtx context.Context) error {
			ok, err := u.Checks.TryTransition(txCtx, c.ID, check.StatusUp, check.StatusDown, c.Version, nil)
			if err != nil {
				return err
			}
			if !ok {
				return errLostRace
			}
			return u.Dispatch.Dispatch(txCtx, c, check.StatusUp, check.StatusDown)
		})
		switch {
		case terr == nil:
			downed++
			u.Log.Info("check overdue, marked down",
				zap.Int64("check_id", c.ID),
				zap.Timep("last_ping_at", c.LastPingAt),
				zap.Time("deadline", *deadline),
			)
		case errors.Is(terr, errLostRace):
			// a ping beat us to it; the check is already UP again
			skipped++
		default:
			failed++
			u.Log.Warn("transition failed", zap.Int64("check_id", c.ID), zap.Error(terr))
		}
	}

	span.SetAttributes(
		attribute.Int("batch.downed", downed),
		attribute.Int("batch.skipped", skipped),
		attribute.Int("batch.failed", failed),
	)
	return len(due), downed, skipped, failed, nil
}
