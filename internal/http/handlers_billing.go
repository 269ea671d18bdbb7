package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"billfold/internal/billing"
	"billfold/internal/storage"
)

type subscriptionResponse struct {
	Status           string `json:"status"`
	PlanID           string `json:"plan_id,omitempty"`
	CurrentPeriodEnd string `json:"current_period_end,omitempty"`
	Active           bool   `json:"active"`
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())

	e, err := s.billing.GetEntitlement(r.Context(), owner)
	if errors.Is(err, storage.ErrEntitlementNotFound) {
		writeJSON(w, http.StatusOK, subscriptionResponse{Status: "none", Active: false})
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Get entitlement failed", "owner_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load subscription")
		return
	}

	writeJSON(w, http.StatusOK, subscriptionResponse{
		Status:           e.Status,
		PlanID:           e.PlanID,
		CurrentPeriodEnd: e.CurrentPeriodEnd.UTC().Format(time.RFC3339),
		Active:           e.ActiveAt(time.Now()),
	})
}

func (s *Server) handleStartCheckout(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())

	session, err := s.billing.StartCheckout(r.Context(), owner)
	if err != nil {
		slog.ErrorContext(r.Context(), "Start checkout failed", "owner_id", owner, "error", err)
		writeError(w, http.StatusBadGateway, "could not start checkout")
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

type redeemCouponRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRedeemCoupon(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())

	var req redeemCouponRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "coupon code required")
		return
	}

	e, err := s.billing.RedeemCoupon(r.Context(), owner, strings.TrimSpace(req.Code))
	switch {
	case errors.Is(err, storage.ErrCouponNotFound):
		writeError(w, http.StatusNotFound, "coupon not found")
		return
	case errors.Is(err, billing.ErrCouponInactive):
		writeError(w, http.StatusConflict, "coupon is no longer active")
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "Redeem coupon failed", "owner_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "could not redeem coupon")
		return
	}

	writeJSON(w, http.StatusOK, subscriptionResponse{
		Status:           e.Status,
		PlanID:           e.PlanID,
		CurrentPeriodEnd: e.CurrentPeriodEnd.UTC().Format(time.RFC3339),
		Active:           e.ActiveAt(time.Now()),
	})
}

// handlePaymentWebhook acknowledges gateway notifications. Anything that is
// not a verifiable approved payment is still answered 200 so the gateway
// stops retrying; only gateway or storage failures return 500.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	n := billing.ParseNotification(r)

	outcome, err := s.billing.Reconcile(r.Context(), n)
	if err != nil {
		slog.ErrorContext(r.Context(), "Webhook reconciliation failed",
			"topic", n.Topic,
			"payment_id", n.PaymentID,
			"error", err)
		http.Error(w, "reconciliation failed", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(r.Context(), "Webhook acknowledged",
		"topic", n.Topic,
		"payment_id", n.PaymentID,
		"outcome", outcome.String())

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
