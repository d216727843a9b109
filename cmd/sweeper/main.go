package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/upmon/upmon/internal/config/sweeper"
	"github.com/upmon/upmon/internal/obs"
	"github.com/upmon/upmon/internal/obs/retry"
	outboxrun "github.com/upmon/upmon/internal/outbox"
	kafkaRepo "github.com/upmon/upmon/internal/repository/kafka"
	pg "github.com/upmon/upmon/internal/repository/postgres"
	"github.com/upmon/upmon/internal/services/dispatcher"
	"github.com/upmon/upmon/internal/services/sweeper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(obs.LogConfig{Level: cfg.LogLevel, App: "sweeper"})
	if err != nil {
		log.Fatal(err)
	}
	l.Info("starting sweeper",
		zap.Any("kafka_out", cfg.Kafka),
		zap.String("metrics_addr", cfg.Sweep.MetricsAddr),
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

	prod := kafkaRepo.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic).WithLogger(l)
	publisher := kafkaRepo.NewStatusEventsKafka(prod)
	defer func() { _ = prod.Close() }()

	ms := obs.BootstrapMetricsServer(cfg.Sweep.MetricsAddr, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return db.Pool.Ping(hctx)
	}, l)

	outboxRepo := pg.NewOutboxRepo(db)
	relay := outboxrun.NewRunner(
		l,
		outboxRepo,
		outboxrun.MakeGlobalHandler(publisher, retry.DefaultKafkaPolicy(l)),
		cfg.Outbox.Workers,
		cfg.Outbox.BatchSize,
		cfg.Outbox.WaitTime,
		cfg.Outbox.InProgressTTL,
	)

	checkRepo := pg.NewCheckRepo(db)
	notifRepo := pg.NewNotificationRepo(db)
	alertRepo := pg.NewAlertRepo(db)
	tx := pg.NewTransactor(db, l)

	disp := dispatcher.New(l, notifRepo, alertRepo, outboxRepo, nil)
	uc := sweeper.NewUC(checkRepo, disp, tx, nil, l)
	runner := sweeper.New(l, uc, &cfg.Sweep)

	var wg sync.WaitGroup
	relay.Start(ctx, &wg)

	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(ctx) }()

	l.Info("sweeper started")

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("runner error", zap.Error(err))
		}
	}

	wg.Wait()

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
