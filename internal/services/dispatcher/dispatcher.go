// Package dispatcher turns a check status transition into delivery
// obligations: one queued alert per bound notification, plus a status-change
// event for the outbox relay.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/domain/check"
	"github.com/upmon/upmon/internal/domain/notification"
	outboxdom "github.com/upmon/upmon/internal/domain/outbox"
	intoutbox "github.com/upmon/upmon/internal/outbox"
)

var (
	mEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatcher_alerts_enqueued_total", Help: "Alerts enqueued for delivery.",
	})
	mDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatcher_alerts_deduplicated_total", Help: "Enqueue attempts skipped because a live alert already exists.",
	})
	mErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatcher_errors_total", Help: "Dispatch errors.",
	})
)

type Dispatcher struct {
	log    *zap.Logger
	notifs notification.Repo
	alerts notification.AlertRepo
	events outboxdom.Repository // nil disables the event stream
	clock  notification.Clock
}

func New(log *zap.Logger, notifs notification.Repo, alerts notification.AlertRepo, events outboxdom.Repository, clock notification.Clock) *Dispatcher {
	if clock == nil {
		clock = notification.SystemClock{}
	}
	return &Dispatcher{
		log:    log.With(zap.String("component", "dispatcher")),
		notifs: notifs,
		alerts: alerts,
		events: events,
		clock:  clock,
	}
}

// Dispatch fans a transition out to every notification bound to the check.
// Safe to call more than once for the same transition: a live alert for the
// same (notification, status) pair is never duplicated.
func (d *Dispatcher) Dispatch(ctx context.Context, chk *check.Check, old, new check.Status) error {
	notifs, err := d.notifs.ListForCheck(ctx, chk.ID)
	if err != nil {
		mErrors.Inc()
		return fmt.Errorf("list notifications for check %d: %w", chk.ID, err)
	}

	for _, n := range notifs {
		created, err := d.alerts.Enqueue(ctx, chk.ID, n.ID, new, n.MaxRetries)
		if err != nil {
			mErrors.Inc()
			return fmt.Errorf("enqueue alert (check %d, notification %d): %w", chk.ID, n.ID, err)
		}
		if created {
			mEnqueued.Inc()
			d.log.Debug("alert enqueued",
				zap.Int64("check_id", chk.ID),
				zap.Int64("notification_id", n.ID),
				zap.String("check_status", string(new)),
				zap.Int32("retries", n.MaxRetries),
			)
		} else {
			mDeduped.Inc()
		}
	}

	if d.events != nil {
		at := d.clock.Now().UTC()
		payload := intoutbox.StatusChangedPayload{
			CheckID: chk.ID,
			Old:     old,
			New:     new,
			At:      at,
		}
		b, _ := json.Marshal(payload)
		key := fmt.Sprintf("status:%d:%s:%d", chk.ID, new, at.UnixNano())
		if err := d.events.Enqueue(ctx, key, outboxdom.KindStatusChanged, b); err != nil {
			mErrors.Inc()
			return fmt.Errorf("outbox enqueue: %w", err)
		}
	}

	return nil
}
