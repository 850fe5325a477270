package mpwebhook

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDecodeJSONBodyWithNumericID(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhooks/mercadopago", nil)
	body := []byte(`{"type":"payment","data":{"id":123456}}`)

	n, err := Decode(r, body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.PaymentID != "123456" {
		t.Fatalf("expected payment id 123456, got %q", n.PaymentID)
	}
	if !n.IsPayment() {
		t.Fatal("expected payment topic")
	}
}

func TestDecodeJSONBodyWithStringID(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhooks/mercadopago", nil)
	body := []byte(`{"action":"payment.created","data":{"id":"789"}}`)

	n, err := Decode(r, body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.PaymentID != "789" {
		t.Fatalf("expected payment id 789, got %q", n.PaymentID)
	}
	if n.Topic != "payment" {
		t.Fatalf("expected topic payment from action, got %q", n.Topic)
	}
}

func TestDecodeQueryParams(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhooks/mercadopago?topic=payment&id=555", nil)

	n, err := Decode(r, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.PaymentID != "555" {
		t.Fatalf("expected payment id 555, got %q", n.PaymentID)
	}
}

func TestDecodeFormEncodedBody(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhooks/mercadopago", nil)
	body := []byte(`topic=payment&id=987654`)

	n, err := Decode(r, body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.PaymentID != "987654" {
		t.Fatalf("expected payment id 987654, got %q", n.PaymentID)
	}
	if !n.IsPayment() {
		t.Fatal("expected payment topic")
	}
}

func TestDecodeMerchantOrderResource(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhooks/mercadopago", nil)
	body := []byte(`{"topic":"merchant_order","resource":"https://api.mercadolibre.com/merchant_orders/2000003508419500"}`)

	n, err := Decode(r, body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.PaymentID != "2000003508419500" {
		t.Fatalf("unexpected id %q", n.PaymentID)
	}
	if n.IsPayment() {
		t.Fatal("merchant_order topic is not a payment event")
	}
}

func TestDecodeUnrecognizedPayload(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhooks/mercadopago", nil)

	_, err := Decode(r, []byte(`{"hello":"world"}`))
	if !errors.Is(err, ErrUnrecognizedPayload) {
		t.Fatalf("expected ErrUnrecognizedPayload, got %v", err)
	}

	_, err = Decode(r, []byte(`not json at all`))
	if !errors.Is(err, ErrUnrecognizedPayload) {
		t.Fatalf("expected ErrUnrecognizedPayload for garbage, got %v", err)
	}
}

func TestEventIDIsStable(t *testing.T) {
	a := Notification{PaymentID: "1", Topic: "payment"}
	b := Notification{PaymentID: "1", Topic: "payment"}
	if a.EventID() != b.EventID() {
		t.Fatal("same notification must produce the same event id")
	}
}

type fakeIdempotencyStore struct {
	data map[string]string
}

func (f *fakeIdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	return f.data[key], nil
}

func (f *fakeIdempotencyStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = "1"
	return true, nil
}

func (f *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "rc:idempotency:" + scope + ":" + id
}

func (f *fakeIdempotencyStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func TestIdempotencyGuardMarksDuplicates(t *testing.T) {
	store := &fakeIdempotencyStore{data: map[string]string{}}
	guard, err := NewIdempotencyGuard(store, time.Hour, "mercadopago")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}

	dup, err := guard.CheckAndMark(context.Background(), "payment:1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if dup {
		t.Fatal("first event must not be a duplicate")
	}

	dup, err = guard.CheckAndMark(context.Background(), "payment:1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !dup {
		t.Fatal("second event must be flagged duplicate")
	}

	if err := guard.Delete(context.Background(), "payment:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	dup, _ = guard.CheckAndMark(context.Background(), "payment:1")
	if dup {
		t.Fatal("deleting the mark must allow reprocessing")
	}
}
