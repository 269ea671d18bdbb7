package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"billfold/internal/core"
	"billfold/internal/storage"
)

// RedeemCoupon grants the coupon's plan for its duration. The grant stacks
// on top of any remaining access and never shortens it: if an entitlement
// already runs past the computed end, the stored row stays as it is.
func (s *Service) RedeemCoupon(ctx context.Context, ownerID, code string) (*core.Entitlement, error) {
	coupon, err := s.store.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !coupon.Active {
		return nil, ErrCouponInactive
	}

	now := s.now()
	start := now
	existing, err := s.store.GetEntitlement(ctx, ownerID)
	switch {
	case err == nil:
		if existing.ActiveAt(now) {
			start = existing.CurrentPeriodEnd
		}
	case errors.Is(err, storage.ErrEntitlementNotFound):
		// First grant for this owner.
	default:
		return nil, fmt.Errorf("load entitlement for %s: %w", ownerID, err)
	}

	entitlement := core.Entitlement{
		OwnerID:          ownerID,
		Status:           core.EntitlementActive,
		PlanID:           coupon.PlanID,
		CurrentPeriodEnd: start.AddDate(0, 0, coupon.DurationDays),
		UpdatedAt:        now,
	}

	if err := s.store.ExtendEntitlement(ctx, entitlement); err != nil {
		return nil, fmt.Errorf("extend entitlement for %s: %w", ownerID, err)
	}

	slog.InfoContext(ctx, "Coupon redeemed",
		"owner_id", ownerID,
		"coupon_code", coupon.Code,
		"plan_id", coupon.PlanID,
		"duration_days", coupon.DurationDays)

	// Re-read so the caller sees whichever period end actually won.
	return s.store.GetEntitlement(ctx, ownerID)
}
