package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/enums"
)

// ProductInventory holds stock for products sold without variants.
type ProductInventory struct {
	ProductID        uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	Quantity         int       `gorm:"column:quantity;not null;default:0;check:chk_product_inventories_quantity,quantity >= 0"`
	ReservedQuantity int       `gorm:"column:reserved_quantity;not null;default:0;check:chk_product_inventories_reserved,reserved_quantity >= 0 AND reserved_quantity <= quantity"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// VariantInventory holds stock per product variant.
type VariantInventory struct {
	VariantID        uuid.UUID `gorm:"column:variant_id;type:uuid;primaryKey"`
	Quantity         int       `gorm:"column:quantity;not null;default:0;check:chk_variant_inventories_quantity,quantity >= 0"`
	ReservedQuantity int       `gorm:"column:reserved_quantity;not null;default:0;check:chk_variant_inventories_reserved,reserved_quantity >= 0 AND reserved_quantity <= quantity"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// InventoryMovement is the audit row appended for each stock mutation.
type InventoryMovement struct {
	ID        uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	Scope     enums.InventoryScope        `gorm:"column:scope;type:text;not null"`
	StockID   uuid.UUID                   `gorm:"column:stock_id;type:uuid;not null;index"`
	Kind      enums.InventoryMovementKind `gorm:"column:kind;type:text;not null"`
	Quantity  int                         `gorm:"column:quantity;not null"`
	Reason    string                      `gorm:"column:reason"`
	OrderID   *uuid.UUID                  `gorm:"column:order_id;type:uuid"`
	CreatedAt time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

func (m *InventoryMovement) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}
