package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/recargas-app/recargas-backend/pkg/config"
	"github.com/recargas-app/recargas-backend/pkg/enums"
	pkgerrors "github.com/recargas-app/recargas-backend/pkg/errors"
	"github.com/recargas-app/recargas-backend/pkg/logger"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled})
	client, err := NewClient(context.Background(), config.ProviderConfig{
		BaseURL:     server.URL,
		AccessToken: "test-token",
		Currency:    "ARS",
		Descriptor:  "RECARGAS TEST",
	}, logg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, server
}

func TestCreatePreferenceSendsExternalReference(t *testing.T) {
	var captured map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkout/preferences" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing bearer token, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":         "pref-123",
			"init_point": "https://checkout.example/pref-123",
		})
	}))

	pref, err := client.CreatePreference(context.Background(), PreferenceParams{
		ExternalReference: "ref-1",
		Title:             "Recarga juan",
		AmountCents:       150050,
		NotificationURL:   "https://app.example/webhooks/mercadopago",
	})
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if pref.ID != "pref-123" {
		t.Fatalf("unexpected preference id %s", pref.ID)
	}

	if captured["external_reference"] != "ref-1" {
		t.Fatalf("external_reference not sent, got %v", captured["external_reference"])
	}
	if captured["binary_mode"] != true {
		t.Fatal("binary_mode should be set")
	}
	items := captured["items"].([]any)
	item := items[0].(map[string]any)
	if item["unit_price"] != 1500.5 {
		t.Fatalf("expected unit_price 1500.5, got %v", item["unit_price"])
	}
}

func TestCreatePreferenceRejectsNonPositiveAmount(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := client.CreatePreference(context.Background(), PreferenceParams{
		ExternalReference: "ref-1",
		AmountCents:       0,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetPaymentMapsStatusAndAmount(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":                 42,
			"status":             "approved",
			"status_detail":      "accredited",
			"external_reference": "ref-9",
			"transaction_amount": 250.75,
			"currency_id":        "ARS",
			"date_created":       "2025-06-01T10:00:00Z",
		})
	}))

	payment, err := client.GetPayment(context.Background(), "42")
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if payment.Status != enums.PaymentStatusApproved {
		t.Fatalf("expected approved, got %s", payment.Status)
	}
	if payment.AmountCents != 25075 {
		t.Fatalf("expected 25075 cents, got %d", payment.AmountCents)
	}
	if payment.ExternalReference != "ref-9" {
		t.Fatalf("unexpected external reference %s", payment.ExternalReference)
	}
}

func TestGetPaymentNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetPayment(context.Background(), "missing")
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestSearchPicksNewestResult(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("external_reference"); got != "ref-7" {
			t.Errorf("unexpected query %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{
					"id":           1,
					"status":       "rejected",
					"date_created": "2025-06-01T09:00:00Z",
				},
				{
					"id":           2,
					"status":       "approved",
					"date_created": "2025-06-01T11:00:00Z",
				},
			},
		})
	}))

	payment, err := client.SearchByExternalReference(context.Background(), "ref-7")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if payment.ID != 2 {
		t.Fatalf("expected newest payment 2, got %d", payment.ID)
	}
	if payment.Status != enums.PaymentStatusApproved {
		t.Fatalf("expected approved, got %s", payment.Status)
	}
}

func TestSearchEmptyReturnsNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	}))

	_, err := client.SearchByExternalReference(context.Background(), "ref-none")
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]enums.PaymentStatus{
		"approved":     enums.PaymentStatusApproved,
		"rejected":     enums.PaymentStatusRejected,
		"cancelled":    enums.PaymentStatusRejected,
		"refunded":     enums.PaymentStatusRejected,
		"charged_back": enums.PaymentStatusRejected,
		"pending":      enums.PaymentStatusPending,
		"in_process":   enums.PaymentStatusPending,
		"authorized":   enums.PaymentStatusPending,
		"whatever":     enums.PaymentStatusUnknown,
		"":             enums.PaymentStatusUnknown,
	}
	for raw, want := range cases {
		if got := mapProviderStatus(raw); got != want {
			t.Errorf("mapProviderStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}
