package sweeper

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	config "github.com/upmon/upmon/internal/config/sweeper"
)

type Runner struct {
	Log *zap.Logger
	UC  *Usecase
	Cfg *config.SweepCfg

	mFetched prometheus.Counter
	mDowned  prometheus.Counter
	mSkipped prometheus.Counter
	mErr     prometheus.Counter
	mLoopDur prometheus.Histogram
}

func New(log *zap.Logger, uc *Usecase, cfg *config.SweepCfg) *Runner {
	return &Runner{
		Log: log,
		UC:  uc,
		Cfg: cfg,
		mFetched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_checks_fetched_total", Help: "Due checks fetched from DB",
		}),
		mDowned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_checks_downed_total", Help: "Checks transitioned UP to DOWN",
		}),
		mSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_checks_skipped_total", Help: "Due checks skipped (not overdue or lost race)",
		}),
		mErr: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_errors_total", Help: "Errors in sweeper loop",
		}),
		mLoopDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "sweeper_loop_duration_seconds", Help: "Sweeper tick duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	fetched, downed, skipped, failed, err := r.UC.Tick(ctx, r.Cfg.BatchLimit)
	if err != nil {
		r.mErr.Inc()
		r.Log.Warn("tick error", zap.Error(err))
	}
	if fetched > 0 {
		r.mFetched.Add(float64(fetched))
		r.mDowned.Add(float64(downed))
		r.mSkipped.Add(float64(skipped))
		if failed > 0 {
			r.mErr.Add(float64(failed))
		}
		r.Log.Debug("swept batch",
			zap.Int("fetched", fetched),
			zap.Int("downed", downed),
			zap.Int("skipped", skipped),
			zap.Int("failed", failed),
		)
	}
	r.mLoopDur.Observe(time.Since(start).Seconds())
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Cfg.Tick)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}
