package alerter

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/domain/notification"
)

var mReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "alerter_reclaimed_total", Help: "Stale RUNNING alerts reclaimed",
}, []string{"outcome"})

// Reaper recovers alerts stuck in RUNNING after a worker crash. A reclaim
// counts as a failed attempt: alerts with retries left go back to QUEUED
// with one retry burned, the rest become FAILED.
type Reaper struct {
	Alerts notification.AlertRepo
	Lease  time.Duration
	Tick   time.Duration
	Clock  notification.Clock
	Log    *zap.Logger
}

func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *Reaper) reap(ctx context.Context) {
	requeued, failed, err := r.Alerts.ReclaimStale(ctx, r.Lease, r.Clock.Now().UTC())
	if err != nil {
		r.Log.Warn("reclaim failed", zap.Error(err))
		return
	}
	if len(requeued)+len(failed) == 0 {
		return
	}
	mReclaimed.WithLabelValues("requeued").Add(float64(len(requeued)))
	mReclaimed.WithLabelValues("failed").Add(float64(len(failed)))
	r.Log.Info("reclaimed stale alerts",
		zap.Int64s("requeued", requeued),
		zap.Int64s("failed", failed),
	)
}
