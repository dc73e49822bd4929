package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fieldnotes/internal/core"
	"fieldnotes/internal/types"
)

// --- Mocks ---

type mockAccountStore struct {
	mock.Mock
}

func (m *mockAccountStore) GetByEmail(ctx context.Context, email string) (*types.Account, error) {
	args := m.Called(ctx, email)
	if a := args.Get(0); a != nil {
		return a.(*types.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAccountStore) ConsumeCredits(ctx context.Context, email string, amount int) error {
	args := m.Called(ctx, email, amount)
	return args.Error(0)
}

// --- Helpers ---

func newAccountRouter(store *mockAccountStore) http.Handler {
	h := NewAccountHandler(store, core.NewValidator(nil), nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// --- Tests ---

func TestAccountHandler_GetAccount_Success(t *testing.T) {
	store := new(mockAccountStore)
	router := newAccountRouter(store)

	store.On("GetByEmail", mock.Anything, "carla@example.com").
		Return(&types.Account{
			Email:            "carla@example.com",
			CreditsRemaining: 40,
			Plan:             types.PlanStandard,
		}, nil)

	req := httptest.NewRequest(http.MethodGet, "/accounts/carla@example.com", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data types.Account `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "carla@example.com", body.Data.Email)
	assert.Equal(t, 40, body.Data.CreditsRemaining)
}

func TestAccountHandler_GetAccount_EscapedEmail(t *testing.T) {
	store := new(mockAccountStore)
	router := newAccountRouter(store)

	store.On("GetByEmail", mock.Anything, "carla@example.com").
		Return(&types.Account{Email: "carla@example.com"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/accounts/carla%40example.com", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	store.AssertExpectations(t)
}

func TestAccountHandler_GetAccount_NotFound(t *testing.T) {
	store := new(mockAccountStore)
	router := newAccountRouter(store)

	store.On("GetByEmail", mock.Anything, "nobody@example.com").
		Return(nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil))

	req := httptest.NewRequest(http.MethodGet, "/accounts/nobody@example.com", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountHandler_Consume_Success(t *testing.T) {
	store := new(mockAccountStore)
	router := newAccountRouter(store)

	store.On("ConsumeCredits", mock.Anything, "carla@example.com", 1).Return(nil)
	store.On("GetByEmail", mock.Anything, "carla@example.com").
		Return(&types.Account{Email: "carla@example.com", CreditsRemaining: 19}, nil)

	req := httptest.NewRequest(http.MethodPost, "/accounts/carla@example.com/consume",
		strings.NewReader(`{"amount": 1}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data types.Account `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 19, body.Data.CreditsRemaining)
	store.AssertExpectations(t)
}

func TestAccountHandler_Consume_Insufficient(t *testing.T) {
	store := new(mockAccountStore)
	router := newAccountRouter(store)

	store.On("ConsumeCredits", mock.Anything, "carla@example.com", 5).
		Return(types.NewAppError(types.ErrCodeConflictInsufficientCredits, "insufficient credits", nil))

	req := httptest.NewRequest(http.MethodPost, "/accounts/carla@example.com/consume",
		strings.NewReader(`{"amount": 5}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAccountHandler_Consume_NonPositiveAmount(t *testing.T) {
	store := new(mockAccountStore)
	router := newAccountRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/accounts/carla@example.com/consume",
		strings.NewReader(`{"amount": 0}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	store.AssertNotCalled(t, "ConsumeCredits")
}

func TestAccountHandler_Consume_AmountAboveMaximum(t *testing.T) {
	store := new(mockAccountStore)
	router := newAccountRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/accounts/carla@example.com/consume",
		strings.NewReader(`{"amount": 500}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	store.AssertNotCalled(t, "ConsumeCredits")
}
