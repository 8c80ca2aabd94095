package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/enums"
)

// Cart is a customer's basket before checkout.
type Cart struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID  uuid.UUID        `gorm:"column:customer_id;type:uuid;not null;index"`
	Status      enums.CartStatus `gorm:"column:status;type:text;not null"`
	OrderID     *uuid.UUID       `gorm:"column:order_id;type:uuid"`
	ConvertedAt *time.Time       `gorm:"column:converted_at"`
	Items       []CartItem       `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Cart) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// CartItem is one product line in a cart.
type CartItem struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	CartID    uuid.UUID  `gorm:"column:cart_id;type:uuid;not null;index"`
	ProductID uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	Quantity  int        `gorm:"column:quantity;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (c *CartItem) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
