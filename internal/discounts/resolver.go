package discounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
	"github.com/angelmondragon/marketcore/pkg/types"
)

// Reasons reported in the details of a COUPON_INVALID error.
const (
	ReasonNotFound               = "not_found"
	ReasonInactive               = "inactive"
	ReasonNotYetValid            = "not_yet_valid"
	ReasonExpired                = "expired"
	ReasonUsageExhausted         = "usage_exhausted"
	ReasonCustomerUsageExhausted = "customer_usage_exhausted"
	ReasonMinimumNotMet          = "minimum_not_met"
	ReasonNotApplicable          = "not_applicable"
)

const (
	promotionScopeProduct = "product"
	promotionScopeVariant = "variant"
)

// Line is one cart line priced at its catalog unit price.
type Line struct {
	ProductID      uuid.UUID
	VariantID      *uuid.UUID
	CategoryID     *uuid.UUID
	UnitPriceCents int64
	Quantity       int
}

// ResolvedLine is a cart line after promotion pricing.
type ResolvedLine struct {
	ProductID                uuid.UUID
	VariantID                *uuid.UUID
	CategoryID               *uuid.UUID
	BaseUnitPriceCents       int64
	UnitPriceCents           int64
	Quantity                 int
	PromotionalDiscountCents int64
	AppliedPromotion         *types.AppliedPromotion
}

// LineTotalCents is the resolved unit price times quantity.
func (l ResolvedLine) LineTotalCents() int64 {
	return l.UnitPriceCents * int64(l.Quantity)
}

// ResolveInput is the cart handed to the resolver.
type ResolveInput struct {
	CustomerID *uuid.UUID
	CouponCode string
	Lines      []Line
	Now        time.Time
}

// Resolution is the priced cart.
type Resolution struct {
	Lines                    []ResolvedLine
	SubtotalCents            int64
	PromotionalDiscountCents int64
	CouponDiscountCents      int64
	TotalDiscountCents       int64
	Coupon                   *models.Coupon
	FreeShipping             bool
}

// Resolver prices carts.
type Resolver interface {
	Resolve(ctx context.Context, input ResolveInput) (*Resolution, error)
	RecordUsage(ctx context.Context, repo Repository, input RecordUsageInput) error
}

type resolver struct {
	repo Repository
	now  func() time.Time
}

// NewResolver builds a resolver over the provided repository.
func NewResolver(repo Repository) (Resolver, error) {
	if repo == nil {
		return nil, fmt.Errorf("discount repository required")
	}
	return &resolver{repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (r *resolver) Resolve(ctx context.Context, input ResolveInput) (*Resolution, error) {
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart contains no lines")
	}
	now := input.Now
	if now.IsZero() {
		now = r.now()
	}

	promos, err := r.repo.ActivePromotions(ctx, productIDs(input.Lines), variantIDs(input.Lines), now)
	if err != nil {
		return nil, err
	}

	res := &Resolution{Lines: make([]ResolvedLine, len(input.Lines))}
	for i, line := range input.Lines {
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"line": i})
		}
		resolved := ResolvedLine{
			ProductID:          line.ProductID,
			VariantID:          line.VariantID,
			CategoryID:         line.CategoryID,
			BaseUnitPriceCents: line.UnitPriceCents,
			UnitPriceCents:     line.UnitPriceCents,
			Quantity:           line.Quantity,
		}
		if promo, scope := bestPromotion(line, promos, now); promo != nil {
			resolved.UnitPriceCents = promo.PromotionalPriceCents
			resolved.PromotionalDiscountCents = (line.UnitPriceCents - promo.PromotionalPriceCents) * int64(line.Quantity)
			resolved.AppliedPromotion = &types.AppliedPromotion{
				PromotionID:         promo.ID.String(),
				Scope:               scope,
				BaseUnitPriceCents:  line.UnitPriceCents,
				PromoUnitPriceCents: promo.PromotionalPriceCents,
			}
		}
		res.SubtotalCents += line.UnitPriceCents * int64(line.Quantity)
		res.PromotionalDiscountCents += resolved.PromotionalDiscountCents
		res.Lines[i] = resolved
	}

	code := NormalizeCode(input.CouponCode)
	if code != "" {
		if err := r.applyCoupon(ctx, res, code, input.CustomerID, now); err != nil {
			return nil, err
		}
	}

	res.TotalDiscountCents = res.PromotionalDiscountCents + res.CouponDiscountCents
	return res, nil
}

func (r *resolver) applyCoupon(ctx context.Context, res *Resolution, code string, customerID *uuid.UUID, now time.Time) error {
	coupon, err := r.repo.FindCouponByCode(ctx, code)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return couponInvalid(code, ReasonNotFound)
		}
		return err
	}
	if err := checkCouponWindow(coupon, now); err != nil {
		return err
	}
	if err := r.checkUsage(ctx, r.repo, coupon, customerID); err != nil {
		return err
	}

	postPromo := res.SubtotalCents - res.PromotionalDiscountCents
	if postPromo < coupon.MinPurchaseCents {
		return couponInvalid(coupon.Code, ReasonMinimumNotMet).WithDetails(map[string]any{
			"code":               coupon.Code,
			"reason":             ReasonMinimumNotMet,
			"min_purchase_cents": coupon.MinPurchaseCents,
			"subtotal_cents":     postPromo,
		})
	}

	base := postPromo
	if coupon.Scoped() {
		base = 0
		for _, line := range res.Lines {
			if lineInScope(*coupon, line) {
				base += line.LineTotalCents()
			}
		}
		if base == 0 {
			return couponInvalid(coupon.Code, ReasonNotApplicable)
		}
	}

	discount, freeShipping := CouponDiscount(*coupon, base)
	res.Coupon = coupon
	res.FreeShipping = freeShipping

	if !coupon.AllowStacking && res.PromotionalDiscountCents > 0 {
		switch {
		case discount > res.PromotionalDiscountCents:
			revertPromotions(res)
		case coupon.Type != enums.CouponTypeFreeShipping:
			// promotions win ties; the coupon is not redeemed
			res.Coupon = nil
			discount = 0
		}
	}
	res.CouponDiscountCents = discount
	return nil
}

// RecordUsageInput ties a redemption to the order it produced.
type RecordUsageInput struct {
	CouponID      uuid.UUID
	CustomerID    *uuid.UUID
	OrderID       uuid.UUID
	DiscountCents int64
}

// RecordUsage re-checks usage limits under a row lock and stores the redemption.
// repo must be bound to the caller's transaction.
func (r *resolver) RecordUsage(ctx context.Context, repo Repository, input RecordUsageInput) error {
	if repo == nil {
		repo = r.repo
	}
	coupon, err := repo.LockCoupon(ctx, input.CouponID)
	if err != nil {
		return err
	}
	if err := r.checkUsage(ctx, repo, coupon, input.CustomerID); err != nil {
		return err
	}
	return repo.CreateUsage(ctx, &models.CouponUsage{
		CouponID:      input.CouponID,
		CustomerID:    input.CustomerID,
		OrderID:       input.OrderID,
		DiscountCents: input.DiscountCents,
	})
}

func (r *resolver) checkUsage(ctx context.Context, repo Repository, coupon *models.Coupon, customerID *uuid.UUID) error {
	if coupon.UsageLimit != nil {
		used, err := repo.CountUsage(ctx, coupon.ID)
		if err != nil {
			return err
		}
		if used >= int64(*coupon.UsageLimit) {
			return couponInvalid(coupon.Code, ReasonUsageExhausted)
		}
	}
	if coupon.PerCustomerLimit != nil && customerID != nil {
		used, err := repo.CountCustomerUsage(ctx, coupon.ID, *customerID)
		if err != nil {
			return err
		}
		if used >= int64(*coupon.PerCustomerLimit) {
			return couponInvalid(coupon.Code, ReasonCustomerUsageExhausted)
		}
	}
	return nil
}

// CouponDiscount computes the discount a coupon grants on base.
func CouponDiscount(coupon models.Coupon, base int64) (int64, bool) {
	if base <= 0 {
		return 0, coupon.Type == enums.CouponTypeFreeShipping
	}
	switch coupon.Type {
	case enums.CouponTypeFixedAmount:
		return min(coupon.Value, base), false
	case enums.CouponTypePercentage:
		amount := decimal.NewFromInt(base).
			Mul(decimal.NewFromInt(coupon.Value)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
		if coupon.MaxDiscountCents > 0 && amount > coupon.MaxDiscountCents {
			amount = coupon.MaxDiscountCents
		}
		return min(amount, base), false
	case enums.CouponTypeFreeShipping:
		return 0, true
	}
	return 0, false
}

// NormalizeCode canonicalises a customer-entered coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func checkCouponWindow(coupon *models.Coupon, now time.Time) error {
	switch {
	case !coupon.Active:
		return couponInvalid(coupon.Code, ReasonInactive)
	case coupon.StartsAt != nil && now.Before(*coupon.StartsAt):
		return couponInvalid(coupon.Code, ReasonNotYetValid)
	case coupon.EndsAt != nil && now.After(*coupon.EndsAt):
		return couponInvalid(coupon.Code, ReasonExpired)
	}
	return nil
}

func bestPromotion(line Line, promos []models.Promotion, now time.Time) (*models.Promotion, string) {
	var bestVariant, bestProduct *models.Promotion
	for i := range promos {
		promo := &promos[i]
		if !promo.ActiveAt(now) || promo.PromotionalPriceCents >= line.UnitPriceCents {
			continue
		}
		switch {
		case line.VariantID != nil && promo.VariantID != nil && *promo.VariantID == *line.VariantID:
			if bestVariant == nil || promo.PromotionalPriceCents < bestVariant.PromotionalPriceCents {
				bestVariant = promo
			}
		case promo.VariantID == nil && promo.ProductID != nil && *promo.ProductID == line.ProductID:
			if bestProduct == nil || promo.PromotionalPriceCents < bestProduct.PromotionalPriceCents {
				bestProduct = promo
			}
		}
	}
	if bestVariant != nil {
		return bestVariant, promotionScopeVariant
	}
	if bestProduct != nil {
		return bestProduct, promotionScopeProduct
	}
	return nil, ""
}

func lineInScope(coupon models.Coupon, line ResolvedLine) bool {
	for _, id := range coupon.ApplicableProductIDs {
		if id == line.ProductID {
			return true
		}
	}
	if line.CategoryID == nil {
		return false
	}
	for _, id := range coupon.ApplicableCategoryIDs {
		if id == *line.CategoryID {
			return true
		}
	}
	return false
}

func revertPromotions(res *Resolution) {
	for i := range res.Lines {
		res.Lines[i].UnitPriceCents = res.Lines[i].BaseUnitPriceCents
		res.Lines[i].PromotionalDiscountCents = 0
		res.Lines[i].AppliedPromotion = nil
	}
	res.PromotionalDiscountCents = 0
}

func couponInvalid(code, reason string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeCouponInvalid, "coupon cannot be applied: "+strings.ReplaceAll(reason, "_", " ")).
		WithDetails(map[string]any{"code": code, "reason": reason})
}

func productIDs(lines []Line) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	out := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		out = append(out, line.ProductID)
	}
	return out
}

func variantIDs(lines []Line) []uuid.UUID {
	out := make([]uuid.UUID, 0)
	for _, line := range lines {
		if line.VariantID != nil {
			out = append(out, *line.VariantID)
		}
	}
	return out
}
