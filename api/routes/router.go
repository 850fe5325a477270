package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/recargas-app/recargas-backend/api/controllers"
	webhookcontrollers "github.com/recargas-app/recargas-backend/api/controllers/webhooks"
	"github.com/recargas-app/recargas-backend/api/middleware"
	"github.com/recargas-app/recargas-backend/internal/reconcile"
	mpwebhook "github.com/recargas-app/recargas-backend/internal/webhooks/mercadopago"
	"github.com/recargas-app/recargas-backend/pkg/config"
	"github.com/recargas-app/recargas-backend/pkg/db"
	"github.com/recargas-app/recargas-backend/pkg/logger"
	"github.com/recargas-app/recargas-backend/pkg/metrics"
	"github.com/recargas-app/recargas-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbPinger db.Pinger,
	redisClient *redis.Client,
	paymentService controllers.PaymentService,
	gatewayService controllers.AdminGatewayService,
	taskPublisher reconcile.TaskPublisher,
	webhookGuard *mpwebhook.IdempotencyGuard,
	reconcileMetrics *metrics.ReconcileMetrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbPinger, redisClient))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/mercadopago", webhookcontrollers.MercadoPagoWebhook(taskPublisher, webhookGuard, reconcileMetrics, logg))
	})

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Post("/", controllers.PaymentCreate(paymentService, logg))
		r.Get("/{paymentId}", controllers.PaymentDetail(paymentService, logg))
		r.Get("/{paymentId}/status", controllers.PaymentStatus(paymentService, logg))
		r.Post("/{paymentId}/status", controllers.PaymentStatus(paymentService, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.AdminSecret(logg, cfg.Admin.SharedToken))
		r.Post("/players", controllers.AdminCreatePlayer(gatewayService, logg))
		r.Post("/withdrawals", controllers.AdminWithdraw(gatewayService, logg))
		r.Get("/balance", controllers.AdminBalance(gatewayService, logg))
	})

	return r
}
