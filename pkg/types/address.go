package types

import "strings"

// ShippingAddress is the delivery destination captured at checkout.
type ShippingAddress struct {
	RecipientName string  `json:"recipient_name" validate:"required"`
	Line1         string  `json:"line1" validate:"required"`
	Line2         *string `json:"line2,omitempty"`
	City          string  `json:"city" validate:"required"`
	State         string  `json:"state" validate:"required"`
	PostalCode    string  `json:"postal_code" validate:"required"`
	Country       string  `json:"country" validate:"required,len=2"`
	Phone         string  `json:"phone,omitempty"`
}

// Normalized trims whitespace and upper-cases the country code.
func (a ShippingAddress) Normalized() ShippingAddress {
	out := a
	out.RecipientName = strings.TrimSpace(a.RecipientName)
	out.Line1 = strings.TrimSpace(a.Line1)
	out.City = strings.TrimSpace(a.City)
	out.State = strings.TrimSpace(a.State)
	out.PostalCode = strings.TrimSpace(a.PostalCode)
	out.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	if a.Line2 != nil {
		line2 := strings.TrimSpace(*a.Line2)
		if line2 == "" {
			out.Line2 = nil
		} else {
			out.Line2 = &line2
		}
	}
	return out
}

// AppliedPromotion records which promotion priced an order line.
type AppliedPromotion struct {
	PromotionID         string `json:"promotion_id"`
	Scope               string `json:"scope"`
	BaseUnitPriceCents  int64  `json:"base_unit_price_cents"`
	PromoUnitPriceCents int64  `json:"promo_unit_price_cents"`
}
