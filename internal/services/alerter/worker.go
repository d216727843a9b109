package alerter

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/channel"
	"github.com/upmon/upmon/internal/domain/notification"
	"github.com/upmon/upmon/internal/obs/retry"
)

var (
	mDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alerter_deliveries_total", Help: "Alert delivery outcomes",
	}, []string{"outcome"})
	mSendDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "alerter_send_duration_seconds", Help: "Channel send duration",
		Buckets: prometheus.DefBuckets,
	})
)

// Worker delivers one claimed alert at a time through the channel registry.
type Worker struct {
	Alerts   notification.AlertRepo
	Channels channel.Registry
	Backoff  retry.ExpoJitter
	SendTO   time.Duration
	Clock    notification.Clock
	Log      *zap.Logger
}

// Process sends a claimed alert and records the outcome:
//   - success ends the alert DELIVERED;
//   - a permanent failure ends it FAILED immediately, retries notwithstanding;
//   - a transient failure burns one retry and requeues with exponential
//     backoff, or ends FAILED when the budget is spent.
func (w *Worker) Process(ctx context.Context, qa *notification.QueuedAlert) error {
	a := &qa.Alert

	tr := otel.Tracer("alerter.worker")
	ctx, span := tr.Start(ctx, "alerter.process",
		trace.WithAttributes(
			attribute.Int64("alert.id", a.ID),
			attribute.String("alert.type", string(qa.Notification.Type)),
			attribute.Int("alert.retries_remaining", int(a.RetriesRemaining)),
		),
	)
	defer span.End()

	sendCtx := ctx
	if w.SendTO > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, w.SendTO)
		defer cancel()
	}

	start := time.Now()
	err := w.Channels.Send(sendCtx, &qa.Notification, qa.Check, a)
	mSendDur.Observe(time.Since(start).Seconds())
	now := w.Clock.Now().UTC()
	if err != nil {
		span.RecordError(err)
	}

	switch {
	case err == nil:
		mDelivered.WithLabelValues("delivered").Inc()
		w.Log.Info("alert delivered",
			zap.Int64("alert_id", a.ID),
			zap.Int64("check_id", a.CheckID),
			zap.String("type", string(qa.Notification.Type)),
		)
		return w.Alerts.Finish(ctx, a.ID, a.ClaimedBy, notification.DeliveryDelivered, now)

	case channel.IsPermanent(err):
		mDelivered.WithLabelValues("failed_permanent").Inc()
		w.Log.Warn("alert failed permanently",
			zap.Int64("alert_id", a.ID),
			zap.Int64("check_id", a.CheckID),
			zap.Error(err),
		)
		return w.Alerts.Finish(ctx, a.ID, a.ClaimedBy, notification.DeliveryFailed, now)

	case a.RetriesRemaining > 0:
		// attempt number counts from zero across the alert's lifetime
		attempt := int(qa.Notification.MaxRetries - a.RetriesRemaining)
		next := now.Add(w.Backoff.Next(attempt))
		mDelivered.WithLabelValues("requeued").Inc()
		w.Log.Info("alert requeued",
			zap.Int64("alert_id", a.ID),
			zap.Int32("retries_remaining", a.RetriesRemaining-1),
			zap.Time("next_attempt_at", next),
			zap.Error(err),
		)
		return w.Alerts.Requeue(ctx, a.ID, a.ClaimedBy, a.RetriesRemaining-1, next)

	default:
		mDelivered.WithLabelValues("failed_exhausted").Inc()
		w.Log.Warn("alert failed, retries exhausted",
			zap.Int64("alert_id", a.ID),
			zap.Int64("check_id", a.CheckID),
			zap.Error(err),
		)
		return w.Alerts.Finish(ctx, a.ID, a.ClaimedBy, notification.DeliveryFailed, now)
	}
}
