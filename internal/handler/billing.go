package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/reelsmith/internal/billing/checkout"
	"github.com/dukerupert/reelsmith/internal/billing/reconcile"
)

type BillingHandler struct {
	issuer     *checkout.Issuer
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
}

func NewBillingHandler(issuer *checkout.Issuer, rec *reconcile.Reconciler, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		issuer:     issuer,
		reconciler: rec,
		logger:     logger,
	}
}

// CreateCheckoutSession validates the price and opens a checkout session.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication_required", "sign in to continue")
		return
	}

	var req struct {
		PriceID string `json:"price_id"`
		Mode    string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if req.Mode == "" {
		req.Mode = "redirect"
	}

	handle, err := h.issuer.CreateSession(r.Context(), userID, req.PriceID, req.Mode)
	if errors.Is(err, checkout.ErrInvalidPrice) || errors.Is(err, checkout.ErrInvalidMode) {
		writeError(w, http.StatusBadRequest, "validation_error", "select a valid plan")
		return
	}
	if err != nil {
		h.logger.Error("create checkout session", "user_id", userID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "billing_unavailable", "please try again")
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

// BillingPortal opens a Stripe billing portal session.
func (h *BillingHandler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication_required", "sign in to continue")
		return
	}

	handle, err := h.issuer.BillingPortal(r.Context(), userID)
	if errors.Is(err, checkout.ErrNoBillingAccount) {
		writeError(w, http.StatusBadRequest, "validation_error", "no billing account")
		return
	}
	if err != nil {
		h.logger.Error("create billing portal session", "user_id", userID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "billing_unavailable", "please try again")
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

// Reconcile recomputes the caller's entitlement from Stripe.
func (h *BillingHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication_required", "sign in to continue")
		return
	}

	ent, err := h.reconciler.Reconcile(r.Context(), userID)
	if err != nil {
		h.logger.Error("reconcile subscription", "user_id", userID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "billing_unavailable", "please try again")
		return
	}
	writeJSON(w, http.StatusOK, ent)
}
