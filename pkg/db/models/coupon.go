package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/enums"
)

// Coupon is a customer-entered discount code.
type Coupon struct {
	ID                    uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Code                  string           `gorm:"column:code;not null;uniqueIndex"`
	Type                  enums.CouponType `gorm:"column:type;type:text;not null"`
	Value                 int64            `gorm:"column:value;not null;default:0"`
	MaxDiscountCents      int64            `gorm:"column:max_discount_cents;not null;default:0"`
	MinPurchaseCents      int64            `gorm:"column:min_purchase_cents;not null;default:0"`
	UsageLimit            *int             `gorm:"column:usage_limit"`
	PerCustomerLimit      *int             `gorm:"column:per_customer_limit"`
	AllowStacking         bool             `gorm:"column:allow_stacking;not null;default:false"`
	StartsAt              *time.Time       `gorm:"column:starts_at"`
	EndsAt                *time.Time       `gorm:"column:ends_at"`
	Active                bool             `gorm:"column:active;not null"`
	ApplicableProductIDs  []uuid.UUID      `gorm:"column:applicable_product_ids;type:jsonb;serializer:json"`
	ApplicableCategoryIDs []uuid.UUID      `gorm:"column:applicable_category_ids;type:jsonb;serializer:json"`
	CreatedAt             time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Coupon) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// Scoped reports whether the coupon is limited to products or categories.
func (c Coupon) Scoped() bool {
	return len(c.ApplicableProductIDs) > 0 || len(c.ApplicableCategoryIDs) > 0
}

// CouponUsage records one redemption of a coupon.
type CouponUsage struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	CouponID      uuid.UUID  `gorm:"column:coupon_id;type:uuid;not null;index"`
	CustomerID    *uuid.UUID `gorm:"column:customer_id;type:uuid;index"`
	OrderID       uuid.UUID  `gorm:"column:order_id;type:uuid;not null"`
	DiscountCents int64      `gorm:"column:discount_cents;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (c *CouponUsage) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
