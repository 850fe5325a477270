package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/recargas-app/recargas-backend/pkg/config"
	pkgerrors "github.com/recargas-app/recargas-backend/pkg/errors"
	"github.com/recargas-app/recargas-backend/pkg/logger"
	"github.com/rs/zerolog"
)

// fakeGateway emulates the agent back-office API surface the client uses.
type fakeGateway struct {
	t            *testing.T
	session      string
	loginCalls   int
	users        map[string]int64
	balance      float64
	paymentErr   *string
	paymentCode  int
	payments     []paymentCall
	rejectLogin  bool
	expireFirst  bool
	firstServed  bool
	createStatus int
	createErr    *string
}

type paymentCall struct {
	userID    int64
	operation int
	amount    float64
}

func (f *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/user/login", func(w http.ResponseWriter, r *http.Request) {
		f.loginCalls++
		if f.rejectLogin {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.session = fmt.Sprintf("sess-%d", f.loginCalls)
		http.SetCookie(w, &http.Cookie{Name: "session", Value: f.session})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": 0, "error_message": nil})
	})

	authed := func(next func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie("session")
			if err != nil || cookie.Value != f.session {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if f.expireFirst && !f.firstServed {
				f.firstServed = true
				f.session = ""
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("/api/user/check", authed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":        0,
			"error_message": nil,
			"result":        map[string]any{"id": 777},
		})
	}))

	mux.HandleFunc("/api/user/balance", authed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":        0,
			"error_message": nil,
			"result":        map[string]any{"balance": f.balance},
		})
	}))

	mux.HandleFunc("/api/agent_admin/user/", authed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			if got := r.URL.Query().Get("user_id"); got != "777" {
				f.t.Errorf("directory query missing agent id, got %q", got)
			}
			users := []map[string]any{}
			for alias, id := range f.users {
				users = append(users, map[string]any{"id": id, "username": alias})
			}
			json.NewEncoder(w).Encode(map[string]any{
				"status":        0,
				"error_message": nil,
				"result":        map[string]any{"users": users},
			})
		case http.MethodPost:
			json.NewEncoder(w).Encode(map[string]any{
				"status":        f.createStatus,
				"error_message": f.createErr,
			})
		}
	}))

	return mux
}

func (f *fakeGateway) paymentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("session")
		if err != nil || cookie.Value != f.session {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Operation int     `json:"operation"`
			Amount    float64 `json:"amount"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		var userID int64
		fmt.Sscanf(r.URL.Path, "/api/agent_admin/user/%d/payment/", &userID)
		f.payments = append(f.payments, paymentCall{userID: userID, operation: body.Operation, amount: body.Amount})

		if f.paymentCode != 0 {
			w.WriteHeader(f.paymentCode)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":        0,
			"error_message": f.paymentErr,
		})
	}
}

func newTestGateway(t *testing.T, fake *fakeGateway) *Client {
	t.Helper()
	fake.t = t
	if fake.users == nil {
		fake.users = map[string]int64{}
	}

	mux := http.NewServeMux()
	mux.Handle("/", fake.handler())
	mux.Handle("/api/agent_admin/user/77/payment/", fake.paymentHandler())
	mux.Handle("/api/agent_admin/user/88/payment/", fake.paymentHandler())

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled})
	client, err := NewClient(context.Background(), config.GatewayConfig{
		BaseURL:  server.URL,
		Username: "agent",
		Password: "secret",
	}, logg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestDepositCreditsAccountAndReturnsBalance(t *testing.T) {
	fake := &fakeGateway{
		users:   map[string]int64{"juan": 77},
		balance: 1234.5,
	}
	client := newTestGateway(t, fake)

	result, err := client.Deposit(context.Background(), "juan", 150050)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if result.BalanceCents != 123450 {
		t.Fatalf("expected balance 123450 cents, got %d", result.BalanceCents)
	}

	if len(fake.payments) != 1 {
		t.Fatalf("expected 1 payment call, got %d", len(fake.payments))
	}
	call := fake.payments[0]
	if call.userID != 77 {
		t.Fatalf("payment sent to wrong user %d", call.userID)
	}
	if call.operation != operationDeposit {
		t.Fatalf("expected deposit operation, got %d", call.operation)
	}
	if call.amount != 1500.5 {
		t.Fatalf("expected major-unit amount 1500.5, got %f", call.amount)
	}
}

func TestWithdrawUsesWithdrawOperation(t *testing.T) {
	fake := &fakeGateway{
		users:   map[string]int64{"maria": 88},
		balance: 10,
	}
	client := newTestGateway(t, fake)

	if _, err := client.Withdraw(context.Background(), "maria", 500); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(fake.payments) != 1 || fake.payments[0].operation != operationWithdraw {
		t.Fatalf("expected withdraw operation, got %+v", fake.payments)
	}
}

func TestDepositFailsWhenGatewayReportsError(t *testing.T) {
	msg := "insufficient agent balance"
	fake := &fakeGateway{
		users:      map[string]int64{"juan": 77},
		paymentErr: &msg,
	}
	client := newTestGateway(t, fake)

	_, err := client.Deposit(context.Background(), "juan", 1000)
	if err == nil {
		t.Fatal("expected deposit to fail")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestDepositFailureIssuesSinglePost(t *testing.T) {
	fake := &fakeGateway{
		users:       map[string]int64{"juan": 77},
		paymentCode: http.StatusInternalServerError,
	}
	client := newTestGateway(t, fake)

	_, err := client.Deposit(context.Background(), "juan", 1000)
	if err == nil {
		t.Fatal("expected deposit to fail")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(fake.payments) != 1 {
		t.Fatalf("a failing payment must not be re-sent by the client, got %d POSTs", len(fake.payments))
	}
}

func TestDepositUnknownAliasReturnsNotFound(t *testing.T) {
	fake := &fakeGateway{users: map[string]int64{"someone": 5}}
	client := newTestGateway(t, fake)

	_, err := client.Deposit(context.Background(), "nobody", 1000)
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if len(fake.payments) != 0 {
		t.Fatal("no payment should be attempted for unknown alias")
	}
}

func TestSessionIsReusedAcrossCalls(t *testing.T) {
	fake := &fakeGateway{users: map[string]int64{"juan": 77}, balance: 1}
	client := newTestGateway(t, fake)

	if _, err := client.Balance(context.Background()); err != nil {
		t.Fatalf("balance: %v", err)
	}
	if _, err := client.Balance(context.Background()); err != nil {
		t.Fatalf("balance: %v", err)
	}
	if fake.loginCalls != 1 {
		t.Fatalf("expected a single login, got %d", fake.loginCalls)
	}
}

func TestExpiredSessionTriggersRelogin(t *testing.T) {
	fake := &fakeGateway{
		users:       map[string]int64{"juan": 77},
		balance:     50,
		expireFirst: true,
	}
	client := newTestGateway(t, fake)

	balance, err := client.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance after relogin: %v", err)
	}
	if balance != 5000 {
		t.Fatalf("expected 5000 cents, got %d", balance)
	}
	if fake.loginCalls != 2 {
		t.Fatalf("expected relogin, got %d login calls", fake.loginCalls)
	}
}

func TestRejectedCredentials(t *testing.T) {
	fake := &fakeGateway{rejectLogin: true}
	client := newTestGateway(t, fake)

	_, err := client.Balance(context.Background())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestCreatePlayerConflict(t *testing.T) {
	msg := "user already exist"
	fake := &fakeGateway{createErr: &msg}
	client := newTestGateway(t, fake)

	err := client.CreatePlayer(context.Background(), "nuevo", "clave1234")
	if !errors.Is(err, ErrPlayerExists) {
		t.Fatalf("expected ErrPlayerExists, got %v", err)
	}
}

func TestCreatePlayerSuccess(t *testing.T) {
	fake := &fakeGateway{}
	client := newTestGateway(t, fake)

	if err := client.CreatePlayer(context.Background(), "nuevo", "clave1234"); err != nil {
		t.Fatalf("create player: %v", err)
	}
}

func TestMajorUnitConversion(t *testing.T) {
	if got := centsToMajorUnits(150050); got != 1500.5 {
		t.Fatalf("centsToMajorUnits: got %f", got)
	}
	if got := majorUnitsToCents(1500.5); got != 150050 {
		t.Fatalf("majorUnitsToCents: got %d", got)
	}
	// float noise must round, not truncate
	if got := majorUnitsToCents(0.29); got != 29 {
		t.Fatalf("majorUnitsToCents(0.29): got %d", got)
	}
}
