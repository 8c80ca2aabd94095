package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/enums"
)

// SellerEarning is the escrowed payout owed to a seller for one order.
type SellerEarning struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	SellerID        uuid.UUID           `gorm:"column:seller_id;type:uuid;not null;index"`
	OrderID         uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	SubOrderID      *uuid.UUID          `gorm:"column:sub_order_id;type:uuid"`
	GrossCents      int64               `gorm:"column:gross_cents;not null"`
	CommissionCents int64               `gorm:"column:commission_cents;not null"`
	NetCents        int64               `gorm:"column:net_cents;not null;check:chk_seller_earnings_net,net_cents >= 0"`
	RefundedCents   int64               `gorm:"column:refunded_cents;not null;default:0"`
	Status          enums.EarningStatus `gorm:"column:status;type:text;not null"`
	AvailableOn     time.Time           `gorm:"column:available_on;not null"`
	ReleasedAt      *time.Time          `gorm:"column:released_at"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (e *SellerEarning) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
