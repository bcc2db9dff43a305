package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/app"
	"github.com/ariefcatur/go-grocery-orders/internal/cart"
	"github.com/ariefcatur/go-grocery-orders/internal/config"
	"github.com/ariefcatur/go-grocery-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-grocery-orders/internal/kafka"
	"github.com/ariefcatur/go-grocery-orders/internal/logging"
	"github.com/ariefcatur/go-grocery-orders/internal/postgres"
	"github.com/ariefcatur/go-grocery-orders/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.ServiceName, cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RunMigrations {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer, one writer for every order topic
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	svc := app.NewOrderService(cfg, app.Deps{DB: db, Redis: rdb, Events: prod, Log: log})
	carts := cart.NewRedisStore(rdb)

	router := httpx.NewRouter(log)
	httpx.Mount(router,
		&httpx.Authenticator{Secret: []byte(cfg.JWTSecret), Log: log},
		&httpx.OrdersHandler{
			Service: svc,
			Cache:   &redisx.StatusCache{RDB: rdb},
			Idem:    &redisx.IdempotencyIndex{RDB: rdb},
			Carts:   carts,
			Log:     log,
		},
		&httpx.CartHandler{Carts: carts, Service: svc, Log: log},
	)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox, flush and close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
