package controllers

import (
	"context"
	"net/http"

	"github.com/recargas-app/recargas-backend/api/responses"
	"github.com/recargas-app/recargas-backend/api/validators"
	"github.com/recargas-app/recargas-backend/internal/gateway"
	pkgerrors "github.com/recargas-app/recargas-backend/pkg/errors"
	"github.com/recargas-app/recargas-backend/pkg/logger"
)

// AdminGatewayService is the agent back-office surface the admin endpoints use.
type AdminGatewayService interface {
	CreatePlayer(ctx context.Context, username, password string) error
	Withdraw(ctx context.Context, alias string, amountCents int64) (*gateway.DepositResult, error)
	Balance(ctx context.Context) (int64, error)
}

type createPlayerRequest struct {
	Username string `json:"username" validate:"required,min=3"`
	Password string `json:"password" validate:"required,min=6"`
}

// AdminCreatePlayer registers a player account under the configured agent.
func AdminCreatePlayer(svc AdminGatewayService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "gateway service unavailable"))
			return
		}

		var payload createPlayerRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.CreatePlayer(ctx, payload.Username, payload.Password); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]string{"username": payload.Username})
	}
}

type withdrawRequest struct {
	Alias       string `json:"alias" validate:"required"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
}

type withdrawResponse struct {
	Alias        string `json:"alias"`
	AmountCents  int64  `json:"amount_cents"`
	BalanceCents int64  `json:"balance_cents"`
}

// AdminWithdraw debits a player account back into the agent balance.
func AdminWithdraw(svc AdminGatewayService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "gateway service unavailable"))
			return
		}

		var payload withdrawRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Withdraw(ctx, payload.Alias, payload.AmountCents)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, withdrawResponse{
			Alias:        payload.Alias,
			AmountCents:  payload.AmountCents,
			BalanceCents: result.BalanceCents,
		})
	}
}

// AdminBalance reports the agent's current gateway balance.
func AdminBalance(svc AdminGatewayService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "gateway service unavailable"))
			return
		}

		balanceCents, err := svc.Balance(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]int64{"balance_cents": balanceCents})
	}
}
