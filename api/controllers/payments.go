package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/recargas-app/recargas-backend/api/responses"
	"github.com/recargas-app/recargas-backend/api/validators"
	"github.com/recargas-app/recargas-backend/internal/reconcile"
	"github.com/recargas-app/recargas-backend/pkg/db/models"
	"github.com/recargas-app/recargas-backend/pkg/enums"
	pkgerrors "github.com/recargas-app/recargas-backend/pkg/errors"
	"github.com/recargas-app/recargas-backend/pkg/logger"
)

// PaymentService is the reconcile surface the payment endpoints depend on.
type PaymentService interface {
	CreatePayment(ctx context.Context, params reconcile.CreatePaymentParams) (*reconcile.CreatedPayment, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error)
	Reconcile(ctx context.Context, id uuid.UUID, trigger reconcile.Trigger) (*models.PaymentRecord, error)
}

type createPaymentRequest struct {
	Beneficiary string `json:"beneficiary" validate:"required"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"omitempty,oneof=ARS USD"`
	PayerEmail  string `json:"payer_email" validate:"omitempty,email"`
}

type createPaymentResponse struct {
	PaymentID          uuid.UUID `json:"payment_id"`
	ExternalReference  string    `json:"external_reference"`
	PreferenceID       string    `json:"preference_id"`
	CheckoutURL        string    `json:"checkout_url"`
	SandboxCheckoutURL string    `json:"sandbox_checkout_url,omitempty"`
	Status             string    `json:"status"`
	Settlement         string    `json:"settlement"`
}

// PaymentCreate opens a checkout preference for a new top-up.
func PaymentCreate(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		var payload createPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		created, err := svc.CreatePayment(ctx, reconcile.CreatePaymentParams{
			Beneficiary: payload.Beneficiary,
			AmountCents: payload.AmountCents,
			Currency:    enums.Currency(payload.Currency),
			PayerEmail:  payload.PayerEmail,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, createPaymentResponse{
			PaymentID:          created.Record.ID,
			ExternalReference:  created.Record.ExternalReference(),
			PreferenceID:       created.Preference.ID,
			CheckoutURL:        created.Preference.InitPoint,
			SandboxCheckoutURL: created.Preference.SandboxInitPoint,
			Status:             created.Record.Status.String(),
			Settlement:         created.Record.Settlement.String(),
		})
	}
}

// PaymentDetail returns the stored record without touching the provider.
func PaymentDetail(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		id, err := paymentIDFromRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		record, err := svc.GetRecord(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, reconcile.StatusViewOf(record))
	}
}

// PaymentStatus verifies the payment against the provider and settles it when
// approved. This is the polling counterpart to the webhook flow.
func PaymentStatus(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		id, err := paymentIDFromRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		record, err := svc.Reconcile(ctx, id, reconcile.TriggerPoll)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, reconcile.StatusViewOf(record))
	}
}

func paymentIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "paymentId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id must be a uuid")
	}
	return id, nil
}
