package checkout

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore/internal/catalog"
	"github.com/angelmondragon/marketcore/internal/commission"
	"github.com/angelmondragon/marketcore/internal/discounts"
	"github.com/angelmondragon/marketcore/internal/inventory"
	"github.com/angelmondragon/marketcore/pkg/db/models"
)

// draft is the priced, discounted and commissioned order before it is
// persisted.
type draft struct {
	lines      []models.OrderLine
	resolution *discounts.Resolution
	sellers    []uuid.UUID
	unassigned int
}

// hold is one reservation taken for the attempt.
type hold struct {
	key inventory.Key
	qty int
}

func discountLines(priced []catalog.PricedLine) []discounts.Line {
	out := make([]discounts.Line, len(priced))
	for i, line := range priced {
		out[i] = discounts.Line{
			ProductID:      line.ProductID,
			VariantID:      line.VariantID,
			CategoryID:     line.CategoryID,
			UnitPriceCents: line.UnitPriceCents,
			Quantity:       line.Quantity,
		}
	}
	return out
}

// buildLines merges catalog data with the discount resolution and stamps
// each line with the seller's commission on its pre-discount amount.
func (s *service) buildLines(ctx context.Context, priced []catalog.PricedLine, res *discounts.Resolution) (*draft, error) {
	d := &draft{resolution: res, lines: make([]models.OrderLine, len(priced))}
	seen := map[uuid.UUID]bool{}
	for i, line := range priced {
		resolved := res.Lines[i]
		rate, err := s.calculator.ResolveRate(ctx, line.SellerID, line.CategoryID)
		if err != nil {
			return nil, err
		}
		base := resolved.BaseUnitPriceCents * int64(resolved.Quantity)
		d.lines[i] = models.OrderLine{
			ProductID:                line.ProductID,
			VariantID:                line.VariantID,
			SellerID:                 line.SellerID,
			CategoryID:               line.CategoryID,
			ProductName:              line.ProductName,
			UnitPriceCents:           resolved.UnitPriceCents,
			BaseUnitPriceCents:       resolved.BaseUnitPriceCents,
			Quantity:                 resolved.Quantity,
			PromotionalDiscountCents: resolved.PromotionalDiscountCents,
			AppliedPromotion:         resolved.AppliedPromotion,
			CommissionRate:           rate.InexactFloat64(),
			CommissionCents:          commission.CalculateCommission(base, rate),
			Position:                 i,
		}

		if line.SellerID == nil || *line.SellerID == uuid.Nil {
			d.unassigned++
			continue
		}
		if !seen[*line.SellerID] {
			seen[*line.SellerID] = true
			d.sellers = append(d.sellers, *line.SellerID)
		}
	}
	return d, nil
}

// commissionCents charges each seller on its own subtotal, matching the
// sub-order and escrow rows the order is split into.
func (d *draft) commissionCents() int64 {
	bySeller := map[uuid.UUID][]models.OrderLine{}
	for _, line := range d.lines {
		seller := uuid.Nil
		if line.SellerID != nil {
			seller = *line.SellerID
		}
		bySeller[seller] = append(bySeller[seller], line)
	}
	var total int64
	for _, lines := range bySeller {
		total += commission.LinesCommission(lines)
	}
	return total
}

// singleSeller reports the seller when every line belongs to the same one.
func (d *draft) singleSeller() *uuid.UUID {
	if len(d.sellers) != 1 || d.unassigned > 0 {
		return nil
	}
	id := d.sellers[0]
	return &id
}
