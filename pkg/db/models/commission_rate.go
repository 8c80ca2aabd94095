package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/enums"
)

// CommissionRate is a configured marketplace cut for a scope.
type CommissionRate struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Scope       enums.CommissionScope `gorm:"column:scope;type:text;not null"`
	ReferenceID *uuid.UUID            `gorm:"column:reference_id;type:uuid"`
	Percentage  decimal.Decimal       `gorm:"column:percentage;type:numeric(5,2);not null"`
	Active      bool                  `gorm:"column:active;not null"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *CommissionRate) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
