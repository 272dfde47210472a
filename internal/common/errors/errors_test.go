package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestNotFoundHTTPStatus(t *testing.T) {
	err := NotFound("task", "abc-123")
	if err.HTTPStatus != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", err.HTTPStatus)
	}
	if !IsNotFound(err) {
		t.Fatal("expected IsNotFound to be true")
	}
}

func TestBadRequestAndValidationErrorAreIsBadRequest(t *testing.T) {
	if !IsBadRequest(BadRequest("missing field")) {
		t.Fatal("expected BadRequest to satisfy IsBadRequest")
	}
	if !IsBadRequest(ValidationError("prompt", "must not be empty")) {
		t.Fatal("expected ValidationError to satisfy IsBadRequest")
	}
	if IsBadRequest(NotFound("task", "x")) {
		t.Fatal("did not expect NotFound to satisfy IsBadRequest")
	}
}

func TestNoWorkersIsRetryable(t *testing.T) {
	err := NoWorkers()
	if !err.Retryable {
		t.Fatal("expected NoWorkers to be retryable")
	}
	if err.HTTPStatus != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", err.HTTPStatus)
	}
}

func TestDispatchFailedIsNotRetryable(t *testing.T) {
	underlying := errors.New("connection refused")
	err := DispatchFailed("worker-1", underlying)
	if err.Retryable {
		t.Fatal("expected DispatchFailed to not be retryable")
	}
	if !errors.Is(err, underlying) {
		t.Fatal("expected DispatchFailed to wrap the underlying error")
	}
}

func TestWrapPreservesAppErrorCode(t *testing.T) {
	inner := NotFound("task", "abc")
	wrapped := Wrap(inner, "loading task")

	if wrapped.Code != ErrCodeNotFound {
		t.Fatalf("expected wrapped error to keep code %q, got %q", ErrCodeNotFound, wrapped.Code)
	}
	if wrapped.HTTPStatus != http.StatusNotFound {
		t.Fatalf("expected wrapped error to keep 404, got %d", wrapped.HTTPStatus)
	}
}

func TestWrapPlainErrorBecomesInternalError(t *testing.T) {
	wrapped := Wrap(errors.New("disk full"), "writing task result")

	if wrapped.Code != ErrCodeInternalError {
		t.Fatalf("expected %q, got %q", ErrCodeInternalError, wrapped.Code)
	}
	if wrapped.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", wrapped.HTTPStatus)
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(nil, "anything") != nil {
		t.Fatal("expected Wrap(nil, ...) to return nil")
	}
}

func TestGetHTTPStatusDefaultsTo500ForPlainError(t *testing.T) {
	if status := GetHTTPStatus(errors.New("boom")); status != http.StatusInternalServerError {
		t.Fatalf("expected 500 for a non-AppError, got %d", status)
	}
}

func TestGetHTTPStatusForAppError(t *testing.T) {
	if status := GetHTTPStatus(CapacityExceeded("worker-1")); status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
}

func TestErrorMessageIncludesWrappedError(t *testing.T) {
	inner := errors.New("no route to host")
	err := DispatchFailed("worker-2", inner)

	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty error message")
	}
	if !errors.Is(err, inner) {
		t.Fatal("expected Unwrap to expose the inner error")
	}
}
