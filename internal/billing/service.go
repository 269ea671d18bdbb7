package billing

import (
	"context"
	"errors"
	"time"

	"billfold/internal/core"
)

// Days of access granted by one verified gateway payment.
const entitlementPeriodDays = 30

var ErrCouponInactive = errors.New("coupon is no longer active")

// PaymentVerifier is the slice of the gateway the reconciler needs.
type PaymentVerifier interface {
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// CheckoutCreator is the slice of the gateway the checkout flow needs.
type CheckoutCreator interface {
	CreatePreference(ctx context.Context, pref PreferenceRequest) (*Preference, error)
}

// EntitlementStore is the persistence surface for paid-tier access.
type EntitlementStore interface {
	UpsertEntitlement(ctx context.Context, e core.Entitlement) error
	ExtendEntitlement(ctx context.Context, e core.Entitlement) error
	GetEntitlement(ctx context.Context, ownerID string) (*core.Entitlement, error)
	GetCouponByCode(ctx context.Context, code string) (*core.Coupon, error)
}

// PlanConfig describes the single paid plan offered at checkout.
type PlanConfig struct {
	ID         string
	Title      string
	PriceCents int64
	BackURL    string
}

// Service owns the subscription lifecycle: hosted checkout, webhook
// reconciliation and coupon grants.
type Service struct {
	gateway  CheckoutCreator
	verifier PaymentVerifier
	store    EntitlementStore
	plan     PlanConfig
	now      func() time.Time
}

func NewService(gateway *Gateway, store EntitlementStore, plan PlanConfig) *Service {
	return &Service{
		gateway:  gateway,
		verifier: gateway,
		store:    store,
		plan:     plan,
		now:      time.Now,
	}
}

// GetEntitlement returns the owner's stored entitlement.
func (s *Service) GetEntitlement(ctx context.Context, ownerID string) (*core.Entitlement, error) {
	e, err := s.store.GetEntitlement(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return e, nil
}
