package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/enums"
	"github.com/angelmondragon/marketcore/pkg/types"
)

// Order is the customer-facing aggregate produced by checkout.
type Order struct {
	ID                       uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	UserID                   *uuid.UUID             `gorm:"column:user_id;type:uuid;index"`
	GuestEmail               *string                `gorm:"column:guest_email"`
	Status                   enums.OrderStatus      `gorm:"column:status;type:text;not null;index"`
	Currency                 string                 `gorm:"column:currency;not null"`
	SubtotalCents            int64                  `gorm:"column:subtotal_cents;not null"`
	PromotionalDiscountCents int64                  `gorm:"column:promotional_discount_cents;not null;default:0"`
	CouponID                 *uuid.UUID             `gorm:"column:coupon_id;type:uuid"`
	CouponCode               *string                `gorm:"column:coupon_code"`
	CouponDiscountCents      int64                  `gorm:"column:coupon_discount_cents;not null;default:0"`
	ShippingCents            int64                  `gorm:"column:shipping_cents;not null;default:0"`
	TotalCents               int64                  `gorm:"column:total_cents;not null"`
	CommissionCents          int64                  `gorm:"column:commission_cents;not null;default:0"`
	SellerPayoutCents        int64                  `gorm:"column:seller_payout_cents;not null;default:0"`
	SellerID                 *uuid.UUID             `gorm:"column:seller_id;type:uuid"`
	ShippingAddress          *types.ShippingAddress `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	PaymentReference         *string                `gorm:"column:payment_reference"`
	RefundedCents            int64                  `gorm:"column:refunded_cents;not null;default:0"`
	RefundPendingCents       int64                  `gorm:"column:refund_pending_cents;not null;default:0"`
	ReplacementOrderID       *uuid.UUID             `gorm:"column:replacement_order_id;type:uuid"`
	OriginalOrderID          *uuid.UUID             `gorm:"column:original_order_id;type:uuid"`
	PaidAt                   *time.Time             `gorm:"column:paid_at"`
	ShippedAt                *time.Time             `gorm:"column:shipped_at"`
	ShippedBy                *uuid.UUID             `gorm:"column:shipped_by;type:uuid"`
	DeliveredAt              *time.Time             `gorm:"column:delivered_at"`
	DeliveredBy              *uuid.UUID             `gorm:"column:delivered_by;type:uuid"`
	CancelledAt              *time.Time             `gorm:"column:cancelled_at"`
	Lines                    []OrderLine            `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	SubOrders                []SubOrder             `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt                time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// DiscountCents is the combined promotional and coupon discount.
func (o Order) DiscountCents() int64 {
	return o.PromotionalDiscountCents + o.CouponDiscountCents
}

// TotalQuantity sums the quantity across all loaded lines.
func (o Order) TotalQuantity() int {
	total := 0
	for _, line := range o.Lines {
		total += line.Quantity
	}
	return total
}

// OrderLine snapshots a purchased product at its resolved price.
type OrderLine struct {
	ID                       uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OrderID                  uuid.UUID               `gorm:"column:order_id;type:uuid;not null;index"`
	SubOrderID               *uuid.UUID              `gorm:"column:sub_order_id;type:uuid;index"`
	ProductID                uuid.UUID               `gorm:"column:product_id;type:uuid;not null"`
	VariantID                *uuid.UUID              `gorm:"column:variant_id;type:uuid"`
	SellerID                 *uuid.UUID              `gorm:"column:seller_id;type:uuid"`
	CategoryID               *uuid.UUID              `gorm:"column:category_id;type:uuid"`
	ProductName              string                  `gorm:"column:product_name;not null"`
	UnitPriceCents           int64                   `gorm:"column:unit_price_cents;not null"`
	BaseUnitPriceCents       int64                   `gorm:"column:base_unit_price_cents;not null"`
	Quantity                 int                     `gorm:"column:quantity;not null"`
	PromotionalDiscountCents int64                   `gorm:"column:promotional_discount_cents;not null;default:0"`
	AppliedPromotion         *types.AppliedPromotion `gorm:"column:applied_promotion;type:jsonb;serializer:json"`
	CommissionRate           float64                 `gorm:"column:commission_rate;not null;default:0"`
	CommissionCents          int64                   `gorm:"column:commission_cents;not null;default:0"`
	Position                 int                     `gorm:"column:position;not null;default:0"`
	CreatedAt                time.Time               `gorm:"column:created_at;autoCreateTime"`
}

func (l *OrderLine) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}

// LineTotalCents is the resolved unit price times quantity.
func (l OrderLine) LineTotalCents() int64 {
	return l.UnitPriceCents * int64(l.Quantity)
}
