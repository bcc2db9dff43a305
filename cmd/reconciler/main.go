package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ariefcatur/go-grocery-orders/internal/app"
	"github.com/ariefcatur/go-grocery-orders/internal/config"
	kafkax "github.com/ariefcatur/go-grocery-orders/internal/kafka"
	"github.com/ariefcatur/go-grocery-orders/internal/logging"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/ariefcatur/go-grocery-orders/internal/postgres"
	"github.com/ariefcatur/go-grocery-orders/internal/reconcile"
	"github.com/ariefcatur/go-grocery-orders/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg.ServiceName+"-reconciler", cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	svc := app.NewOrderService(cfg, app.Deps{DB: db, Redis: rdb, Events: prod, Log: log})
	worker := &reconcile.Worker{
		Orders:        svc.Orders,
		Service:       svc,
		Log:           log,
		Interval:      cfg.ReconcileInterval,
		HeadlessGrace: cfg.HeadlessGrace,
	}
	handler := &reconcile.Handler{Worker: worker, Redis: rdb}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReconcileGroup, orders.TopicPartialFailure, cfg.ReconcileWorkers, log)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		log.Info().Str("group", cfg.ReconcileGroup).Str("topic", orders.TopicPartialFailure).Int("workers", cfg.ReconcileWorkers).Msg("consumer started")
		if err := cons.Start(ctx, handler.HandlePartialFailure); err != nil {
			log.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		_ = worker.Run(ctx)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down reconciler")
	cancel()
	wg.Wait()
	prod.Close()
	prod.WaitClosed()
}
