package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/recargas-app/recargas-backend/api/routes"
	"github.com/recargas-app/recargas-backend/internal/gateway"
	"github.com/recargas-app/recargas-backend/internal/provider"
	"github.com/recargas-app/recargas-backend/internal/reconcile"
	mpwebhook "github.com/recargas-app/recargas-backend/internal/webhooks/mercadopago"
	"github.com/recargas-app/recargas-backend/pkg/config"
	"github.com/recargas-app/recargas-backend/pkg/db"
	"github.com/recargas-app/recargas-backend/pkg/logger"
	"github.com/recargas-app/recargas-backend/pkg/metrics"
	"github.com/recargas-app/recargas-backend/pkg/migrate"
	"github.com/recargas-app/recargas-backend/pkg/pubsub"
	"github.com/recargas-app/recargas-backend/pkg/redis"
)

const webhookPath = "/api/v1/webhooks/mercadopago"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

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

	reconcileMetrics := metrics.NewReconcileMetrics(prometheus.DefaultRegisterer)

	service, err := reconcile.NewService(reconcile.ServiceParams{
		Repo:      reconcile.NewRepository(dbClient.DB()),
		Provider:  providerClient,
		Gateway:   gatewayClient,
		Locks:     locker,
		Metrics:   reconcileMetrics,
		Logger:    logg,
		Config:    cfg.Reconcile,
		NotifyURL: notificationURL(cfg),
	})
	requireResource(ctx, logg, "reconcile service", err)

	publisher, err := reconcile.NewPubSubTaskPublisher(pubsubClient.ReconcilePublisher())
	requireResource(ctx, logg, "reconcile task publisher", err)

	guard, err := mpwebhook.NewIdempotencyGuard(redisClient, cfg.Webhook.IdempotencyTTL, "mercadopago")
	requireResource(ctx, logg, "webhook idempotency guard", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	runCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(runCtx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, service, gatewayClient, publisher, guard, reconcileMetrics),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(runCtx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func notificationURL(cfg *config.Config) string {
	if cfg.App.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(cfg.App.PublicURL, "/") + webhookPath
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "resource not working: "+resource, err)
	os.Exit(1)
}
