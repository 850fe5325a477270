package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/recargas-app/recargas-backend/internal/gateway"
	"github.com/recargas-app/recargas-backend/internal/provider"
	"github.com/recargas-app/recargas-backend/internal/reconcile"
	"github.com/recargas-app/recargas-backend/pkg/config"
	"github.com/recargas-app/recargas-backend/pkg/db"
	"github.com/recargas-app/recargas-backend/pkg/logger"
	"github.com/recargas-app/recargas-backend/pkg/metrics"
	"github.com/recargas-app/recargas-backend/pkg/pubsub"
	"github.com/recargas-app/recargas-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub", err)
		}
	}()

	providerClient, err := provider.NewClient(ctx, cfg.Provider, logg)
	requireResource(ctx, logg, "mercadopago client", err)

	gatewayClient, err := gateway.NewClient(ctx, cfg.Gateway, logg)
	requireResource(ctx, logg, "gateway client", err)

	locker, err := reconcile.NewRedisLocker(redisClient, cfg.Reconcile.LockTTL)
	requireResource(ctx, logg, "reconcile locker", err)

	repo := reconcile.NewRepository(dbClient.DB())

	service, err := reconcile.NewService(reconcile.ServiceParams{
		Repo:     repo,
		Provider: providerClient,
		Gateway:  gatewayClient,
		Locks:    locker,
		Metrics:  metrics.NewReconcileMetrics(prometheus.DefaultRegisterer),
		Logger:   logg,
		Config:   cfg.Reconcile,
	})
	requireResource(ctx, logg, "reconcile service", err)

	sweeper, err := reconcile.NewSweeper(reconcile.SweeperParams{
		Service:  service,
		Repo:     repo,
		Logger:   logg,
		Interval: cfg.Reconcile.SweepInterval,
		MinAge:   cfg.Reconcile.SweepMinAge,
		Batch:    cfg.Reconcile.SweepBatch,
	})
	requireResource(ctx, logg, "reconcile sweeper", err)

	subscription := pubsubClient.ReconcileSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "reconcile subscription", errors.New("subscription not configured"))
	}

	consumer, err := reconcile.NewConsumer(service, subscription, logg)
	requireResource(ctx, logg, "reconcile consumer", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{"env": cfg.App.Env})
	logg.Info(runCtx, "reconcile worker ready")

	go func() {
		if err := sweeper.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(runCtx, "reconcile sweeper stopped", err)
		}
	}()

	if err := consumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "reconcile worker failed", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "reconcile worker shutting down")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "resource not working: "+resource, err)
	os.Exit(1)
}
