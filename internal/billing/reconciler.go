package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"billfold/internal/core"
)

// Outcome classifies how a webhook notification was handled.
type Outcome int

const (
	// OutcomeIgnored covers everything that is acknowledged without touching
	// state: non-payment topics, notifications without a payment id, and
	// verified payments that cannot be attributed to an owner.
	OutcomeIgnored Outcome = iota
	// OutcomeNotApproved means the payment was verified but its status does
	// not grant entitlement.
	OutcomeNotApproved
	// OutcomeActivated means the owner's entitlement was written.
	OutcomeActivated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotApproved:
		return "not_approved"
	case OutcomeActivated:
		return "activated"
	default:
		return "ignored"
	}
}

// Notification is the normalized form of a gateway webhook call. The
// provider sends payment events in several shapes (JSON body, IPN-style
// query params); only the topic and the payment id matter.
type Notification struct {
	Topic     string
	PaymentID string
}

// IsPayment reports whether the notification is a payment event worth
// verifying.
func (n Notification) IsPayment() bool {
	return n.Topic == "payment" && n.PaymentID != ""
}

// flexID tolerates the payment id arriving as a JSON string or number.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type notificationBody struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  struct {
		ID flexID `json:"id"`
	} `json:"data"`
}

// ParseNotification extracts the topic and payment id from a webhook
// request. JSON bodies win; query parameters fill whatever the body left
// empty. A request that fits no known shape still parses, it just will not
// classify as a payment.
func ParseNotification(r *http.Request) Notification {
	var n Notification

	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err == nil && len(body) > 0 {
			var parsed notificationBody
			if err := json.Unmarshal(body, &parsed); err == nil {
				n.Topic = parsed.Type
				if n.Topic == "" {
					n.Topic = parsed.Topic
				}
				n.PaymentID = string(parsed.Data.ID)
			}
		}
	}

	q := r.URL.Query()
	if n.Topic == "" {
		n.Topic = q.Get("type")
	}
	if n.Topic == "" {
		n.Topic = q.Get("topic")
	}
	if n.PaymentID == "" {
		n.PaymentID = q.Get("data.id")
	}
	if n.PaymentID == "" {
		n.PaymentID = q.Get("id")
	}

	return n
}

// Reconcile verifies a webhook notification against the gateway and updates
// the owner's entitlement when the payment is approved. The notification
// content itself is never trusted: status and owner both come from the
// re-fetched payment. A non-nil error means the caller should signal the
// gateway to retry.
func (s *Service) Reconcile(ctx context.Context, n Notification) (Outcome, error) {
	if !n.IsPayment() {
		slog.InfoContext(ctx, "Webhook notification ignored",
			"topic", n.Topic,
			"payment_id", n.PaymentID)
		return OutcomeIgnored, nil
	}

	payment, err := s.verifier.GetPayment(ctx, n.PaymentID)
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("verify payment %s: %w", n.PaymentID, err)
	}

	if payment.Status != PaymentApproved {
		slog.InfoContext(ctx, "Payment not approved, no entitlement change",
			"payment_id", n.PaymentID,
			"status", payment.Status)
		return OutcomeNotApproved, nil
	}

	ownerID := payment.ExternalReference
	if ownerID == "" {
		slog.WarnContext(ctx, "Approved payment has no external reference, cannot attribute",
			"payment_id", n.PaymentID)
		return OutcomeIgnored, nil
	}

	now := s.now()
	entitlement := core.Entitlement{
		OwnerID:          ownerID,
		Status:           core.EntitlementActive,
		PlanID:           s.plan.ID,
		CurrentPeriodEnd: now.AddDate(0, 0, entitlementPeriodDays),
		UpdatedAt:        now,
	}

	if err := s.store.UpsertEntitlement(ctx, entitlement); err != nil {
		return OutcomeIgnored, fmt.Errorf("store entitlement for %s: %w", ownerID, err)
	}

	slog.InfoContext(ctx, "Entitlement activated from verified payment",
		"owner_id", ownerID,
		"payment_id", n.PaymentID,
		"plan_id", s.plan.ID,
		"current_period_end", entitlement.CurrentPeriodEnd.Format("2006-01-02"))

	return OutcomeActivated, nil
}
