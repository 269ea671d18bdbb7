package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"billfold/internal/core"
	"billfold/internal/storage"
)

func TestRedeemCoupon_FirstGrant(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.coupons["WELCOME30"] = core.Coupon{
		ID: 1, Code: "WELCOME30", PlanID: "premium", DurationDays: 30, Active: true,
	}
	svc := newTestBillingService(nil, store, now)

	e, err := svc.RedeemCoupon(context.Background(), "user_1", "WELCOME30")
	if err != nil {
		t.Fatalf("RedeemCoupon() error = %v", err)
	}

	wantEnd := now.AddDate(0, 0, 30)
	if !e.CurrentPeriodEnd.Equal(wantEnd) {
		t.Errorf("CurrentPeriodEnd = %v, want %v", e.CurrentPeriodEnd, wantEnd)
	}
	if e.PlanID != "premium" {
		t.Errorf("PlanID = %q, want premium", e.PlanID)
	}
}

func TestRedeemCoupon_StacksOnActiveEntitlement(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	existingEnd := now.AddDate(0, 0, 10)

	store := newFakeStore()
	store.coupons["PLUS7"] = core.Coupon{
		ID: 1, Code: "PLUS7", PlanID: "premium", DurationDays: 7, Active: true,
	}
	store.entitlements["user_1"] = core.Entitlement{
		OwnerID:          "user_1",
		Status:           core.EntitlementActive,
		PlanID:           "premium",
		CurrentPeriodEnd: existingEnd,
		UpdatedAt:        now.AddDate(0, 0, -20),
	}
	svc := newTestBillingService(nil, store, now)

	e, err := svc.RedeemCoupon(context.Background(), "user_1", "PLUS7")
	if err != nil {
		t.Fatalf("RedeemCoupon() error = %v", err)
	}

	// The week stacks on the 10 remaining days rather than replacing them.
	wantEnd := existingEnd.AddDate(0, 0, 7)
	if !e.CurrentPeriodEnd.Equal(wantEnd) {
		t.Errorf("CurrentPeriodEnd = %v, want %v", e.CurrentPeriodEnd, wantEnd)
	}
}

func TestRedeemCoupon_NeverShortensAccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.coupons["PLUS7"] = core.Coupon{
		ID: 1, Code: "PLUS7", PlanID: "premium", DurationDays: 7, Active: true,
	}
	// Expired entitlement: the grant starts from now, not from the old end.
	store.entitlements["user_1"] = core.Entitlement{
		OwnerID:          "user_1",
		Status:           core.EntitlementActive,
		PlanID:           "premium",
		CurrentPeriodEnd: now.AddDate(0, 0, -5),
		UpdatedAt:        now.AddDate(0, 0, -40),
	}
	svc := newTestBillingService(nil, store, now)

	e, err := svc.RedeemCoupon(context.Background(), "user_1", "PLUS7")
	if err != nil {
		t.Fatalf("RedeemCoupon() error = %v", err)
	}

	wantEnd := now.AddDate(0, 0, 7)
	if !e.CurrentPeriodEnd.Equal(wantEnd) {
		t.Errorf("CurrentPeriodEnd = %v, want %v", e.CurrentPeriodEnd, wantEnd)
	}
}

func TestRedeemCoupon_InactiveCoupon(t *testing.T) {
	store := newFakeStore()
	store.coupons["OLD"] = core.Coupon{
		ID: 1, Code: "OLD", PlanID: "premium", DurationDays: 30, Active: false,
	}
	svc := newTestBillingService(nil, store, time.Now())

	if _, err := svc.RedeemCoupon(context.Background(), "user_1", "OLD"); !errors.Is(err, ErrCouponInactive) {
		t.Errorf("RedeemCoupon() error = %v, want ErrCouponInactive", err)
	}
}

func TestRedeemCoupon_UnknownCode(t *testing.T) {
	svc := newTestBillingService(nil, newFakeStore(), time.Now())

	if _, err := svc.RedeemCoupon(context.Background(), "user_1", "NOPE"); !errors.Is(err, storage.ErrCouponNotFound) {
		t.Errorf("RedeemCoupon() error = %v, want ErrCouponNotFound", err)
	}
}
