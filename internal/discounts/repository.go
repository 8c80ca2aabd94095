package discounts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketcore/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
)

// Repository reads promotions and coupons and records redemptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ActivePromotions(ctx context.Context, productIDs, variantIDs []uuid.UUID, at time.Time) ([]models.Promotion, error)
	FindCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	LockCoupon(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
	CountUsage(ctx context.Context, couponID uuid.UUID) (int64, error)
	CountCustomerUsage(ctx context.Context, couponID, customerID uuid.UUID) (int64, error)
	CreateUsage(ctx context.Context, usage *models.CouponUsage) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the discount repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ActivePromotions(ctx context.Context, productIDs, variantIDs []uuid.UUID, at time.Time) ([]models.Promotion, error) {
	if len(productIDs) == 0 && len(variantIDs) == 0 {
		return nil, nil
	}
	query := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("starts_at <= ? AND ends_at >= ?", at, at)
	switch {
	case len(productIDs) > 0 && len(variantIDs) > 0:
		query = query.Where("product_id IN ? OR variant_id IN ?", productIDs, variantIDs)
	case len(productIDs) > 0:
		query = query.Where("product_id IN ?", productIDs)
	default:
		query = query.Where("variant_id IN ?", variantIDs)
	}
	var promos []models.Promotion
	if err := query.Order("promotional_price_cents ASC").Find(&promos).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promotions")
	}
	return promos, nil
}

func (r *repository) FindCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&coupon).Error
	if err != nil {
		return nil, mapFindErr(err, "coupon not found")
	}
	return &coupon, nil
}

// LockCoupon serialises redemptions of one coupon for the rest of the transaction.
func (r *repository) LockCoupon(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&coupon).Error
	if err != nil {
		return nil, mapFindErr(err, "coupon not found")
	}
	return &coupon, nil
}

func (r *repository) CountUsage(ctx context.Context, couponID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.CouponUsage{}).
		Where("coupon_id = ?", couponID).
		Count(&count).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count coupon usage")
	}
	return count, nil
}

func (r *repository) CountCustomerUsage(ctx context.Context, couponID, customerID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.CouponUsage{}).
		Where("coupon_id = ? AND customer_id = ?", couponID, customerID).
		Count(&count).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count customer coupon usage")
	}
	return count, nil
}

func (r *repository) CreateUsage(ctx context.Context, usage *models.CouponUsage) error {
	if err := r.db.WithContext(ctx).Create(usage).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record coupon usage")
	}
	return nil
}

func mapFindErr(err error, notFound string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
}
