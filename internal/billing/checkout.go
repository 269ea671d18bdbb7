package billing

import (
	"context"
	"fmt"
	"log/slog"
)

// CheckoutSession is what the frontend needs to send the user to the hosted
// payment page.
type CheckoutSession struct {
	PreferenceID string `json:"preference_id"`
	InitPoint    string `json:"init_point"`
}

// StartCheckout creates a gateway checkout preference for the configured
// plan. The owner id travels as external_reference so the later payment
// verification can attribute the purchase without trusting the webhook.
func (s *Service) StartCheckout(ctx context.Context, ownerID string) (*CheckoutSession, error) {
	pref := PreferenceRequest{
		Items: []PreferenceItem{{
			Title:     s.plan.Title,
			Quantity:  1,
			UnitPrice: float64(s.plan.PriceCents) / 100,
		}},
		ExternalReference: ownerID,
	}
	if s.plan.BackURL != "" {
		pref.BackURLs = BackURLs{
			Success: s.plan.BackURL,
			Failure: s.plan.BackURL,
			Pending: s.plan.BackURL,
		}
		pref.AutoReturn = "approved"
	}

	created, err := s.gateway.CreatePreference(ctx, pref)
	if err != nil {
		return nil, fmt.Errorf("start checkout: %w", err)
	}

	slog.InfoContext(ctx, "Checkout session created",
		"owner_id", ownerID,
		"plan_id", s.plan.ID,
		"preference_id", created.ID)

	return &CheckoutSession{
		PreferenceID: created.ID,
		InitPoint:    created.InitPoint,
	}, nil
}
