package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataMapping(t *testing.T) {
	cases := []struct {
		code   Code
		status int
		retry  bool
	}{
		{CodeValidation, http.StatusBadRequest, false},
		{CodeNotFound, http.StatusNotFound, false},
		{CodeConflict, http.StatusConflict, false},
		{CodeStateConflict, http.StatusUnprocessableEntity, false},
		{CodeDependency, http.StatusBadGateway, true},
		{CodeInternal, http.StatusInternalServerError, true},
	}
	for _, tc := range cases {
		meta := MetadataFor(tc.code)
		if meta.HTTPStatus != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.code, tc.status, meta.HTTPStatus)
		}
		if meta.Retryable != tc.retry {
			t.Fatalf("%s: expected retryable=%v", tc.code, tc.retry)
		}
	}
}

func TestMetadataForUnknownCode(t *testing.T) {
	meta := MetadataFor(Code("SOMETHING_ELSE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("unknown codes should map to internal, got %d", meta.HTTPStatus)
	}
}

func TestAsUnwrapsWrappedErrors(t *testing.T) {
	base := New(CodeNotFound, "payment missing")
	wrapped := fmt.Errorf("reconcile: %w", base)

	typed := As(wrapped)
	if typed == nil {
		t.Fatal("expected typed error through wrapping")
	}
	if typed.Code() != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", typed.Code())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(CodeDependency, cause, "provider call failed")
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(New(CodeValidation, "bad input")) {
		t.Fatal("validation errors must not be retryable")
	}
	if !IsRetryable(New(CodeDependency, "gateway 503")) {
		t.Fatal("dependency errors are retryable")
	}
	if !IsRetryable(errors.New("plain")) {
		t.Fatal("untyped errors default to retryable")
	}
	if IsRetryable(nil) {
		t.Fatal("nil is not retryable")
	}
}
