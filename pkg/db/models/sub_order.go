package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/enums"
)

// SubOrder is one seller's share of a multi-seller order.
type SubOrder struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	SellerID          uuid.UUID            `gorm:"column:seller_id;type:uuid;not null"`
	SubtotalCents     int64                `gorm:"column:subtotal_cents;not null"`
	CommissionRate    float64              `gorm:"column:commission_rate;not null"`
	CommissionCents   int64                `gorm:"column:commission_cents;not null"`
	SellerPayoutCents int64                `gorm:"column:seller_payout_cents;not null"`
	FulfillmentStatus enums.SubOrderStatus `gorm:"column:fulfillment_status;type:text;not null"`
	ShippedAt         *time.Time           `gorm:"column:shipped_at"`
	DeliveredAt       *time.Time           `gorm:"column:delivered_at"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *SubOrder) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
