package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/recargas-app/recargas-backend/internal/gateway"
)

type testGatewayService struct {
	createPlayerFn func(ctx context.Context, username, password string) error
	withdrawFn     func(ctx context.Context, alias string, amountCents int64) (*gateway.DepositResult, error)
	balanceFn      func(ctx context.Context) (int64, error)
}

func (s *testGatewayService) CreatePlayer(ctx context.Context, username, password string) error {
	if s.createPlayerFn != nil {
		return s.createPlayerFn(ctx, username, password)
	}
	return nil
}

func (s *testGatewayService) Withdraw(ctx context.Context, alias string, amountCents int64) (*gateway.DepositResult, error) {
	if s.withdrawFn != nil {
		return s.withdrawFn(ctx, alias, amountCents)
	}
	return &gateway.DepositResult{}, nil
}

func (s *testGatewayService) Balance(ctx context.Context) (int64, error) {
	if s.balanceFn != nil {
		return s.balanceFn(ctx)
	}
	return 0, nil
}

func TestAdminCreatePlayerSuccess(t *testing.T) {
	svc := &testGatewayService{
		createPlayerFn: func(_ context.Context, username, password string) error {
			if username != "player1" || password != "secret123" {
				t.Fatalf("unexpected credentials %s/%s", username, password)
			}
			return nil
		},
	}

	body := `{"username":"player1","password":"secret123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/players", strings.NewReader(body))
	resp := httptest.NewRecorder()

	AdminCreatePlayer(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
}

func TestAdminCreatePlayerConflict(t *testing.T) {
	svc := &testGatewayService{
		createPlayerFn: func(context.Context, string, string) error {
			return gateway.ErrPlayerExists
		},
	}

	body := `{"username":"player1","password":"secret123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/players", strings.NewReader(body))
	resp := httptest.NewRecorder()

	AdminCreatePlayer(svc, testLogger())(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("unexpected status %d", resp.Code)
	}
}

func TestAdminWithdrawSuccess(t *testing.T) {
	svc := &testGatewayService{
		withdrawFn: func(_ context.Context, alias string, amountCents int64) (*gateway.DepositResult, error) {
			if alias != "juan" {
				t.Fatalf("unexpected alias %q", alias)
			}
			if amountCents != 5000 {
				t.Fatalf("unexpected amount %d", amountCents)
			}
			return &gateway.DepositResult{BalanceCents: 120000}, nil
		},
	}

	body := `{"alias":"juan","amount_cents":5000}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/withdrawals", strings.NewReader(body))
	resp := httptest.NewRecorder()

	AdminWithdraw(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data withdrawResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.BalanceCents != 120000 {
		t.Fatalf("unexpected balance %d", envelope.Data.BalanceCents)
	}
}

func TestAdminWithdrawUnknownAlias(t *testing.T) {
	svc := &testGatewayService{
		withdrawFn: func(context.Context, string, int64) (*gateway.DepositResult, error) {
			return nil, gateway.ErrAccountNotFound
		},
	}

	body := `{"alias":"ghost","amount_cents":5000}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/withdrawals", strings.NewReader(body))
	resp := httptest.NewRecorder()

	AdminWithdraw(svc, testLogger())(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", resp.Code)
	}
}

func TestAdminBalance(t *testing.T) {
	svc := &testGatewayService{
		balanceFn: func(context.Context) (int64, error) {
			return 987650, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/balance", nil)
	resp := httptest.NewRecorder()

	AdminBalance(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	var envelope struct {
		Data map[string]int64 `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data["balance_cents"] != 987650 {
		t.Fatalf("unexpected balance %d", envelope.Data["balance_cents"])
	}
}
