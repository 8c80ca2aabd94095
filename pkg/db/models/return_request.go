package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/enums"
)

// RefundRequest is a customer's claim for money back on one order line.
type RefundRequest struct {
	ID                 uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	OrderID            uuid.UUID                 `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID          uuid.UUID                 `gorm:"column:product_id;type:uuid;not null"`
	OrderLineID        uuid.UUID                 `gorm:"column:order_line_id;type:uuid;not null"`
	CustomerID         uuid.UUID                 `gorm:"column:customer_id;type:uuid;not null"`
	SellerID           *uuid.UUID                `gorm:"column:seller_id;type:uuid"`
	Reason             enums.ReturnReason        `gorm:"column:reason;type:text;not null"`
	Description        string                    `gorm:"column:description"`
	EvidenceURLs       []string                  `gorm:"column:evidence_urls;type:jsonb;serializer:json"`
	Status             enums.RefundRequestStatus `gorm:"column:status;type:text;not null;index"`
	Quantity           int                       `gorm:"column:quantity;not null"`
	AmountCents        int64                     `gorm:"column:amount_cents;not null"`
	ShippingShareCents int64                     `gorm:"column:shipping_share_cents;not null;default:0"`
	GatewayRefundID    *string                   `gorm:"column:gateway_refund_id"`
	FailureReason      *string                   `gorm:"column:failure_reason"`
	RejectionReason    *string                   `gorm:"column:rejection_reason"`
	ReviewerID         *uuid.UUID                `gorm:"column:reviewer_id;type:uuid"`
	ReviewedAt         *time.Time                `gorm:"column:reviewed_at"`
	ProcessedAt        *time.Time                `gorm:"column:processed_at"`
	CreatedAt          time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *RefundRequest) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// ReplacementRequest is a customer's claim for a replacement shipment.
type ReplacementRequest struct {
	ID                 uuid.UUID                      `gorm:"column:id;type:uuid;primaryKey"`
	OrderID            uuid.UUID                      `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID          uuid.UUID                      `gorm:"column:product_id;type:uuid;not null"`
	OrderLineID        uuid.UUID                      `gorm:"column:order_line_id;type:uuid;not null"`
	CustomerID         uuid.UUID                      `gorm:"column:customer_id;type:uuid;not null"`
	SellerID           *uuid.UUID                     `gorm:"column:seller_id;type:uuid"`
	Reason             enums.ReturnReason             `gorm:"column:reason;type:text;not null"`
	Description        string                         `gorm:"column:description"`
	EvidenceURLs       []string                       `gorm:"column:evidence_urls;type:jsonb;serializer:json"`
	Status             enums.ReplacementRequestStatus `gorm:"column:status;type:text;not null;index"`
	Quantity           int                            `gorm:"column:quantity;not null"`
	ReplacementOrderID *uuid.UUID                     `gorm:"column:replacement_order_id;type:uuid"`
	RejectionReason    *string                        `gorm:"column:rejection_reason"`
	ReviewerID         *uuid.UUID                     `gorm:"column:reviewer_id;type:uuid"`
	ReviewedAt         *time.Time                     `gorm:"column:reviewed_at"`
	ProcessedAt        *time.Time                     `gorm:"column:processed_at"`
	CreatedAt          time.Time                      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                      `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *ReplacementRequest) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
