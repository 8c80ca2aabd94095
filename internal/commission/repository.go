package commission

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
)

// Repository persists configured commission rates.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindActive(ctx context.Context, scope enums.CommissionScope, referenceID *uuid.UUID) (*models.CommissionRate, error)
	DeactivateScope(ctx context.Context, scope enums.CommissionScope, referenceID *uuid.UUID) error
	Create(ctx context.Context, rate *models.CommissionRate) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the commission repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindActive returns the newest active rate for the scope, or nil when none is configured.
func (r *repository) FindActive(ctx context.Context, scope enums.CommissionScope, referenceID *uuid.UUID) (*models.CommissionRate, error) {
	var rate models.CommissionRate
	err := scoped(r.db.WithContext(ctx), scope, referenceID).
		Where("active = ?", true).
		Order("created_at DESC").
		First(&rate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission rate")
	}
	return &rate, nil
}

func (r *repository) DeactivateScope(ctx context.Context, scope enums.CommissionScope, referenceID *uuid.UUID) error {
	err := scoped(r.db.WithContext(ctx).Model(&models.CommissionRate{}), scope, referenceID).
		Where("active = ?", true).
		Update("active", false).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate commission rates")
	}
	return nil
}

func (r *repository) Create(ctx context.Context, rate *models.CommissionRate) error {
	if err := r.db.WithContext(ctx).Create(rate).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create commission rate")
	}
	return nil
}

func (r *repository) Deactivate(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.CommissionRate{}).
		Where("id = ?", id).
		Update("active", false)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "deactivate commission rate")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "commission rate not found")
	}
	return nil
}

func scoped(db *gorm.DB, scope enums.CommissionScope, referenceID *uuid.UUID) *gorm.DB {
	db = db.Where("scope = ?", scope)
	if referenceID == nil {
		return db.Where("reference_id IS NULL")
	}
	return db.Where("reference_id = ?", *referenceID)
}
