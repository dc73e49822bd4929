package types

import (
	"errors"
	"net/http"
	"testing"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationMissingField, http.StatusBadRequest},
		{ErrCodeValidationInvalidEmail, http.StatusBadRequest},
		{ErrCodeValidationInvalidJSON, http.StatusBadRequest},
		{ErrCodeValidationAmountRange, http.StatusBadRequest},
		{ErrCodeWebhookSignatureMissing, http.StatusBadRequest},
		{ErrCodeWebhookSignatureInvalid, http.StatusBadRequest},
		{ErrCodeNotFoundAccount, http.StatusNotFound},
		{ErrCodeNotFoundCustomer, http.StatusNotFound},
		{ErrCodeConflictInsufficientCredits, http.StatusConflict},
		{ErrCodeUpstreamStripe, http.StatusBadGateway},
		{ErrCodeUpstreamEmail, http.StatusBadGateway},
		{ErrCodeUpstreamUnavailable, http.StatusBadGateway},
		{ErrCodeUpstreamRateLimited, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrCodeInternalUnexpected, http.StatusInternalServerError},
		{ErrorCode("something_unrecognized"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeNotFoundAccount, "no account for carla@example.com", nil)

	want := "not_found_account: no account for carla@example.com"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewAppError(ErrCodeInternalDB, "query failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}

	var appErr *AppError
	if !errors.As(error(err), &appErr) {
		t.Error("expected errors.As to extract *AppError")
	}
}

func TestNewAppErrorWithDetails(t *testing.T) {
	err := NewAppErrorWithDetails(
		ErrCodeValidationAmountRange,
		"amount exceeds limit",
		nil,
		map[string]any{"max": 100},
	)

	if err.Details["max"] != 100 {
		t.Errorf("expected max detail, got %v", err.Details)
	}
	if err.HTTPStatus() != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", err.HTTPStatus())
	}
}
