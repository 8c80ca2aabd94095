package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is the catalog entry a customer buys.
type Product struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	SellerID    *uuid.UUID `gorm:"column:seller_id;type:uuid;index"`
	CategoryID  *uuid.UUID `gorm:"column:category_id;type:uuid"`
	Name        string     `gorm:"column:name;not null"`
	PriceCents  int64      `gorm:"column:price_cents;not null"`
	IsFinalSale bool       `gorm:"column:is_final_sale;not null;default:false"`
	Active      bool       `gorm:"column:active;not null"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// ProductVariant optionally overrides the product price.
type ProductVariant struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID  uuid.UUID `gorm:"column:product_id;type:uuid;not null;index"`
	SKU        string    `gorm:"column:sku"`
	PriceCents *int64    `gorm:"column:price_cents"`
	Active     bool      `gorm:"column:active;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (v *ProductVariant) BeforeCreate(*gorm.DB) error {
	ensureID(&v.ID)
	return nil
}

// Category carries return policy flags for its products.
type Category struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name          string    `gorm:"column:name;not null"`
	IsRefundable  bool      `gorm:"column:is_refundable;not null"`
	IsReplaceable bool      `gorm:"column:is_replaceable;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (c *Category) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
