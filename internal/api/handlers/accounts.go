// This file implements the account surface consumed by the UI collaborator:
// reading the ledger snapshot and spending credits on note generation.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"fieldnotes/internal/core"
	"fieldnotes/internal/types"
)

// maxConsumeAmount bounds a single consume call. Generation spends one credit
// at a time today; the ceiling leaves room for batch features without letting
// a buggy client empty an account in one request.
const maxConsumeAmount = 100

// AccountStore is the ledger access the account handler needs.
type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*types.Account, error)
	ConsumeCredits(ctx context.Context, email string, amount int) error
}

// ConsumeRequest is the body for POST /v1/accounts/{email}/consume.
type ConsumeRequest struct {
	Amount int `json:"amount" validate:"required,gt=0"`
}

// AccountHandler implements the account read and consume endpoints.
type AccountHandler struct {
	accounts  AccountStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountStore, validator *core.Validator, logger *slog.Logger) *AccountHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountHandler{
		accounts:  accounts,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the account endpoints under /v1.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Get("/accounts/{email}", h.HandleGetAccount)
	r.Post("/accounts/{email}/consume", h.HandleConsume)
}

// HandleGetAccount returns the ledger snapshot for one account.
func (h *AccountHandler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	email, err := emailParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	acct, err := h.accounts.GetByEmail(r.Context(), email)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: acct})
}

// HandleConsume spends credits from the account balance. The decrement is
// conditional in storage, so a concurrent grant or consume can never push the
// balance negative; insufficient funds come back as a 409.
func (h *AccountHandler) HandleConsume(w http.ResponseWriter, r *http.Request) {
	email, err := emailParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req ConsumeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.Amount > maxConsumeAmount {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationAmountRange,
			"consume amount exceeds per-request maximum",
			nil,
			map[string]any{"max": maxConsumeAmount},
		))
		return
	}

	if err := h.accounts.ConsumeCredits(r.Context(), email, req.Amount); err != nil {
		core.Error(w, r, err)
		return
	}

	acct, err := h.accounts.GetByEmail(r.Context(), email)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "credits consumed",
		"email", email,
		"amount", req.Amount,
		"remaining", acct.CreditsRemaining,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: acct})
}

// emailParam extracts and normalizes the {email} path parameter. The value
// arrives URL-escaped.
func emailParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "email")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		decoded = raw
	}
	email := types.NormalizeEmail(decoded)
	if email == "" {
		return "", types.NewAppError(
			types.ErrCodeValidationInvalidEmail,
			"email path parameter must not be empty",
			nil,
		)
	}
	return email, nil
}
