package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fieldnotes/internal/types"
)

func TestJSON_Success(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{"email": "carla@example.com"}})

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var body APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	dataMap, ok := body.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected data to be a map, got %T", body.Data)
	}
	if dataMap["email"] != "carla@example.com" {
		t.Errorf("unexpected data: %v", dataMap)
	}
}

func TestError_AppErrorPicksStatusFromCode(t *testing.T) {
	tests := []struct {
		name       string
		code       types.ErrorCode
		wantStatus int
	}{
		{"validation", types.ErrCodeValidationInvalidEmail, http.StatusBadRequest},
		{"not found", types.ErrCodeNotFoundAccount, http.StatusNotFound},
		{"conflict", types.ErrCodeConflictInsufficientCredits, http.StatusConflict},
		{"upstream", types.ErrCodeUpstreamStripe, http.StatusBadGateway},
		{"internal", types.ErrCodeInternalDB, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r = r.WithContext(types.WithRequestID(r.Context(), "req_err_1"))

			Error(w, r, types.NewAppError(tt.code, "boom", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}

			var body APIErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body.Error.Code != string(tt.code) {
				t.Errorf("expected code %s, got %s", tt.code, body.Error.Code)
			}
			if body.Error.RequestID != "req_err_1" {
				t.Errorf("expected request ID req_err_1, got %q", body.Error.RequestID)
			}
		})
	}
}

func TestError_UnknownErrorBecomesGeneric500(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	Error(w, r, errors.New("pq: connection refused"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}

	var body APIErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("expected generic code, got %s", body.Error.Code)
	}
	// The underlying cause must never leak to clients.
	if strings.Contains(body.Error.Message, "connection refused") {
		t.Errorf("internal detail leaked: %s", body.Error.Message)
	}
}

func TestError_WrappedAppErrorUnwrapped(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	inner := types.NewAppError(types.ErrCodeNotFoundAccount, "no such account", nil)
	Error(w, r, errors.Join(errors.New("outer"), inner))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 from wrapped AppError, got %d", w.Code)
	}
}

// --- DecodeJSON tests ---

type decodeTarget struct {
	Plan  string `json:"plan"`
	Count int    `json:"count"`
}

func decodeRequest(t *testing.T, body string) (*httptest.ResponseRecorder, *http.Request) {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	return w, r
}

func TestDecodeJSON_Success(t *testing.T) {
	w, r := decodeRequest(t, `{"plan":"standard","count":3}`)

	var dst decodeTarget
	if err := DecodeJSON(w, r, &dst); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if dst.Plan != "standard" || dst.Count != 3 {
		t.Errorf("unexpected decode result: %+v", dst)
	}
}

func TestDecodeJSON_MalformedBody(t *testing.T) {
	w, r := decodeRequest(t, `{"plan":`)

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	assertInvalidJSON(t, err)
}

func TestDecodeJSON_EmptyBody(t *testing.T) {
	w, r := decodeRequest(t, "")

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	assertInvalidJSON(t, err)
}

func TestDecodeJSON_UnknownField(t *testing.T) {
	w, r := decodeRequest(t, `{"plan":"standard","tier":"gold"}`)

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	assertInvalidJSON(t, err)
}

func TestDecodeJSON_WrongFieldType(t *testing.T) {
	w, r := decodeRequest(t, `{"count":"three"}`)

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	assertInvalidJSON(t, err)

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		if appErr.Details["field"] != "count" {
			t.Errorf("expected field detail count, got %v", appErr.Details)
		}
	}
}

func TestDecodeJSON_TrailingContent(t *testing.T) {
	w, r := decodeRequest(t, `{"plan":"standard"}{"plan":"plus"}`)

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	assertInvalidJSON(t, err)
}

func assertInvalidJSON(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeValidationInvalidJSON {
		t.Errorf("expected %s, got %s", types.ErrCodeValidationInvalidJSON, appErr.Code)
	}
}
