package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Promotion is a time-boxed price override for a product or variant.
type Promotion struct {
	ID                    uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ProductID             *uuid.UUID `gorm:"column:product_id;type:uuid;index"`
	VariantID             *uuid.UUID `gorm:"column:variant_id;type:uuid;index"`
	PromotionalPriceCents int64      `gorm:"column:promotional_price_cents;not null"`
	StartsAt              time.Time  `gorm:"column:starts_at;not null"`
	EndsAt                time.Time  `gorm:"column:ends_at;not null"`
	Active                bool       `gorm:"column:active;not null"`
	CreatedAt             time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (p *Promotion) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// ActiveAt reports whether the promotion window contains t.
func (p Promotion) ActiveAt(t time.Time) bool {
	return p.Active && !t.Before(p.StartsAt) && !t.After(p.EndsAt)
}
