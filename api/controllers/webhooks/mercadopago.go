package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/recargas-app/recargas-backend/api/responses"
	"github.com/recargas-app/recargas-backend/internal/reconcile"
	mpwebhook "github.com/recargas-app/recargas-backend/internal/webhooks/mercadopago"
	pkgerrors "github.com/recargas-app/recargas-backend/pkg/errors"
	"github.com/recargas-app/recargas-backend/pkg/logger"
	"github.com/recargas-app/recargas-backend/pkg/metrics"
)

const maxNotificationBody = 64 * 1024

type reconcileTaskPublisher interface {
	PublishTask(ctx context.Context, task reconcile.Task) error
}

type notificationGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// MercadoPagoWebhook acknowledges payment notifications fast: it decodes the
// event, dedupes it, and enqueues an asynchronous reconcile task. The actual
// provider verification happens in the worker.
func MercadoPagoWebhook(publisher reconcileTaskPublisher, guard notificationGuard, m *metrics.ReconcileMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if publisher == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "task publisher unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		notification, err := mpwebhook.Decode(r, body)
		if err != nil {
			m.IncWebhookEvent("unrecognized")
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if !notification.IsPayment() || notification.PaymentID == "" {
			m.IncWebhookEvent("ignored")
			responses.WriteSuccess(w, nil)
			return
		}

		if logg != nil {
			ctx = logg.WithProviderPaymentID(ctx, notification.PaymentID)
		}

		duplicate, err := guard.CheckAndMark(ctx, notification.EventID())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if duplicate {
			m.IncWebhookEvent("duplicate")
			responses.WriteSuccess(w, nil)
			return
		}

		task := reconcile.Task{
			ProviderPaymentID: notification.PaymentID,
			EventID:           notification.EventID(),
		}
		if err := publisher.PublishTask(ctx, task); err != nil {
			// Unmark so the provider's retry gets another chance to enqueue.
			_ = guard.Delete(ctx, notification.EventID())
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue reconcile task"))
			return
		}

		m.IncWebhookEvent("accepted")
		if logg != nil {
			logg.Info(ctx, "mercadopago notification accepted")
		}
		responses.WriteSuccess(w, nil)
	}
}
