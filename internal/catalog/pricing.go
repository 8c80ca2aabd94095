package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
)

// LineRef identifies what the customer wants to buy. Prices are never taken
// from the caller.
type LineRef struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
}

// PricedLine is a LineRef resolved against the catalog.
type PricedLine struct {
	ProductID      uuid.UUID
	VariantID      *uuid.UUID
	SellerID       *uuid.UUID
	CategoryID     *uuid.UUID
	ProductName    string
	UnitPriceCents int64
	Quantity       int
	IsFinalSale    bool
}

// Pricer resolves server-side prices for basket lines.
type Pricer interface {
	PriceLines(ctx context.Context, refs []LineRef) ([]PricedLine, error)
}

type pricer struct {
	repo Repository
}

// NewPricer wires a Pricer on the catalog repository.
func NewPricer(repo Repository) (Pricer, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	return &pricer{repo: repo}, nil
}

// PriceLines keeps input order. A variant price overrides the product price.
func (p *pricer) PriceLines(ctx context.Context, refs []LineRef) ([]PricedLine, error) {
	productIDs := make([]uuid.UUID, 0, len(refs))
	variantIDs := make([]uuid.UUID, 0, len(refs))
	for _, ref := range refs {
		productIDs = append(productIDs, ref.ProductID)
		if ref.VariantID != nil {
			variantIDs = append(variantIDs, *ref.VariantID)
		}
	}
	products, err := p.repo.FindProducts(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	variants, err := p.repo.FindVariants(ctx, variantIDs)
	if err != nil {
		return nil, err
	}

	out := make([]PricedLine, 0, len(refs))
	for i, ref := range refs {
		product, ok := products[ref.ProductID]
		if !ok || !product.Active {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not available").
				WithDetails(map[string]any{"line": i, "product_id": ref.ProductID.String()})
		}
		line := PricedLine{
			ProductID:      product.ID,
			SellerID:       product.SellerID,
			CategoryID:     product.CategoryID,
			ProductName:    product.Name,
			UnitPriceCents: product.PriceCents,
			Quantity:       ref.Quantity,
			IsFinalSale:    product.IsFinalSale,
		}
		if ref.VariantID != nil {
			variant, ok := variants[*ref.VariantID]
			if !ok || !variant.Active || variant.ProductID != product.ID {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not available").
					WithDetails(map[string]any{"line": i, "variant_id": ref.VariantID.String()})
			}
			variantID := variant.ID
			line.VariantID = &variantID
			if variant.PriceCents != nil {
				line.UnitPriceCents = *variant.PriceCents
			}
		}
		if line.UnitPriceCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "catalog price is negative").
				WithDetails(map[string]any{"line": i})
		}
		out = append(out, line)
	}
	return out, nil
}
