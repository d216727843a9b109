package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/upmon/upmon/internal/config/pingd"
	"github.com/upmon/upmon/internal/httpapi"
	"github.com/upmon/upmon/internal/obs"
	pg "github.com/upmon/upmon/internal/repository/postgres"
	"github.com/upmon/upmon/internal/services/checks"
	"github.com/upmon/upmon/internal/services/dispatcher"
	"github.com/upmon/upmon/internal/services/ping"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(obs.LogConfig{Level: cfg.LogLevel, App: "pingd"})
	if err != nil {
		log.Fatal(err)
	}
	l.Info("starting pingd",
		zap.String("addr", cfg.HTTP.Addr),
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

	checkRepo := pg.NewCheckRepo(db)
	notifRepo := pg.NewNotificationRepo(db)
	alertRepo := pg.NewAlertRepo(db)
	outboxRepo := pg.NewOutboxRepo(db)
	tx := pg.NewTransactor(db, l)

	disp := dispatcher.New(l, notifRepo, alertRepo, outboxRepo, nil)
	pingUC := ping.NewUC(checkRepo, disp, tx, nil, l)
	adminUC := checks.NewUC(checkRepo, notifRepo, nil, l)

	srv := httpapi.NewServer(cfg.HTTP, l, pingUC, adminUC)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	l.Info("pingd started")

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("http server error", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(3 * time.Second)
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
