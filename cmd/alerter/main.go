package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/channel"
	config "github.com/upmon/upmon/internal/config/alerter"
	"github.com/upmon/upmon/internal/domain/notification"
	"github.com/upmon/upmon/internal/obs"
	"github.com/upmon/upmon/internal/obs/retry"
	pg "github.com/upmon/upmon/internal/repository/postgres"
	"github.com/upmon/upmon/internal/services/alerter"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(obs.LogConfig{Level: cfg.LogLevel, App: "alerter"})
	if err != nil {
		log.Fatal(err)
	}
	l.Info("starting alerter",
		zap.Int("pool_size", cfg.Pool.Size),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	otelCloser, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	db, err := pg.New(ctx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Pool.Close()

	ms := obs.BootstrapMetricsServer(cfg.MetricsAddr, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return db.Pool.Ping(hctx)
	}, l)

	alertRepo := pg.NewAlertRepo(db)

	channels := channel.Registry{
		notification.TypeEmail:   channel.NewEmail(cfg.SMTP, l),
		notification.TypeWebhook: channel.NewWebhook(cfg.Webhook, l),
	}

	worker := &alerter.Worker{
		Alerts:   alertRepo,
		Channels: channels,
		Backoff: retry.ExpoJitter{
			Base:   cfg.Backoff.Base,
			Max:    cfg.Backoff.Max,
			Jitter: cfg.Backoff.Jitter,
		},
		SendTO: cfg.Pool.SendTimeout,
		Clock:  notification.SystemClock{},
		Log:    l,
	}
	pool := &alerter.Pool{
		Worker:   worker,
		Alerts:   alertRepo,
		Size:     cfg.Pool.Size,
		PollTick: cfg.Pool.PollTick,
		Log:      l,
	}
	reaper := &alerter.Reaper{
		Alerts: alertRepo,
		Lease:  cfg.Reaper.Lease,
		Tick:   cfg.Reaper.Tick,
		Clock:  notification.SystemClock{},
		Log:    l,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- pool.Run(ctx) }()
	go func() { errCh <- reaper.Run(ctx) }()

	l.Info("alerter started")

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("worker error", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
