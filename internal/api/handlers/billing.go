// This file implements the UI collaborator's billing surface: creating
// hosted checkout sessions and billing portal sessions. Neither endpoint
// writes billing state; all state changes arrive through the webhook.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fieldnotes/internal/core"
	"fieldnotes/internal/types"
)

// BillingService is the subset of the payment provider client the billing
// handler needs. Defined locally so tests can mock it.
type BillingService interface {
	CreateCheckoutSession(ctx context.Context, email string, plan types.PlanTier, urls types.RedirectURLs) (checkoutURL string, sessionID string, err error)
	CreatePortalSession(ctx context.Context, customerID string, returnURL string) (portalURL string, err error)
}

// AccountReader provides the account lookup the portal endpoint needs to
// resolve a Stripe customer ID.
type AccountReader interface {
	GetByEmail(ctx context.Context, email string) (*types.Account, error)
}

// --- Request/Response Models ---

// CreateCheckoutRequest is the body for POST /v1/billing/checkout.
//
// SuccessURL and CancelURL are deliberately not accepted from the client;
// they are built server-side from the configured app base URL to prevent
// open redirects.
type CreateCheckoutRequest struct {
	Email string         `json:"email" validate:"required,email"`
	Plan  types.PlanTier `json:"plan" validate:"required,oneof=standard plus"`
}

// CheckoutResponse is the response for POST /v1/billing/checkout.
type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// CreatePortalRequest is the body for POST /v1/billing/portal.
type CreatePortalRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// PortalResponse is the response for POST /v1/billing/portal.
type PortalResponse struct {
	PortalURL string `json:"portal_url"`
}

// BillingHandler implements the checkout and portal endpoints.
type BillingHandler struct {
	billing    BillingService
	accounts   AccountReader
	validator  *core.Validator
	appBaseURL string
	logger     *slog.Logger
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(
	billing BillingService,
	accounts AccountReader,
	validator *core.Validator,
	appBaseURL string,
	logger *slog.Logger,
) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		billing:    billing,
		accounts:   accounts,
		validator:  validator,
		appBaseURL: appBaseURL,
		logger:     logger,
	}
}

// RegisterRoutes mounts the billing endpoints under /v1.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout", h.HandleCreateCheckout)
	r.Post("/billing/portal", h.HandleCreatePortal)
}

// HandleCreateCheckout creates a hosted checkout session for the given email
// and plan. The account record itself is created later by the
// checkout.session.completed webhook, never here.
func (h *BillingHandler) HandleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	email := types.NormalizeEmail(req.Email)
	urls := types.RedirectURLs{
		Success: h.appBaseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		Cancel:  h.appBaseURL + "/billing/cancel",
	}

	checkoutURL, sessionID, err := h.billing.CreateCheckoutSession(r.Context(), email, req.Plan, urls)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create checkout session",
			"email", email,
			"plan", req.Plan,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		"email", email,
		"plan", req.Plan,
		"session_id", sessionID,
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{
		Data: CheckoutResponse{
			CheckoutURL: checkoutURL,
			SessionID:   sessionID,
		},
	})
}

// HandleCreatePortal creates a billing portal session for an account that
// already completed checkout. Accounts without a Stripe customer ID get a
// 404 with code not_found_stripe_customer.
func (h *BillingHandler) HandleCreatePortal(w http.ResponseWriter, r *http.Request) {
	var req CreatePortalRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	email := types.NormalizeEmail(req.Email)
	acct, err := h.accounts.GetByEmail(r.Context(), email)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if acct.StripeCustomerID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundCustomer,
			"account has no billing profile yet",
			nil,
		))
		return
	}

	portalURL, err := h.billing.CreatePortalSession(r.Context(), acct.StripeCustomerID, h.appBaseURL+"/settings/billing")
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create portal session",
			"email", email,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{
		Data: PortalResponse{PortalURL: portalURL},
	})
}
