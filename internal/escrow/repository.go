package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
)

// Repository manages persistence for seller earnings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateMany(ctx context.Context, rows []models.SellerEarning) error
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.SellerEarning, error)
	FindByOrderAndSeller(ctx context.Context, orderID, sellerID uuid.UUID) (*models.SellerEarning, error)
	DeductRefund(ctx context.Context, id uuid.UUID, amountCents int64) error
	ReleaseDue(ctx context.Context, now time.Time) (int64, error)
	VoidByOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an earnings repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateMany(ctx context.Context, rows []models.SellerEarning) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create seller earnings")
	}
	return nil
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.SellerEarning, error) {
	var rows []models.SellerEarning
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list seller earnings")
	}
	return rows, nil
}

func (r *repository) FindByOrderAndSeller(ctx context.Context, orderID, sellerID uuid.UUID) (*models.SellerEarning, error) {
	var row models.SellerEarning
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND seller_id = ?", orderID, sellerID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seller earnings not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller earnings")
	}
	return &row, nil
}

// DeductRefund lowers net by amount, floored at zero. A row that reaches zero
// is marked refunded.
func (r *repository) DeductRefund(ctx context.Context, id uuid.UUID, amountCents int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.SellerEarning{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"net_cents":      gorm.Expr("CASE WHEN net_cents > ? THEN net_cents - ? ELSE 0 END", amountCents, amountCents),
			"refunded_cents": gorm.Expr("refunded_cents + ?", amountCents),
			"status":         gorm.Expr("CASE WHEN net_cents <= ? THEN ? ELSE status END", amountCents, string(enums.EarningStatusRefunded)),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "deduct seller earnings")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "seller earnings not found")
	}
	return nil
}

// ReleaseDue makes every pending row whose holding period has elapsed
// available. Rows of orders that are unpaid or cancelled stay pending.
func (r *repository) ReleaseDue(ctx context.Context, now time.Time) (int64, error) {
	settled := r.db.Model(&models.Order{}).
		Select("id").
		Where("status NOT IN ?", []enums.OrderStatus{enums.OrderStatusPendingPayment, enums.OrderStatusCancelled})
	res := r.db.WithContext(ctx).
		Model(&models.SellerEarning{}).
		Where("status = ? AND available_on <= ?", enums.EarningStatusPending, now).
		Where("order_id IN (?)", settled).
		Updates(map[string]any{
			"status":      enums.EarningStatusAvailable,
			"released_at": now,
		})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release seller earnings")
	}
	return res.RowsAffected, nil
}

// VoidByOrder voids the order's earnings that have not been paid out.
func (r *repository) VoidByOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SellerEarning{}).
		Where("order_id = ? AND status IN ?", orderID, []enums.EarningStatus{enums.EarningStatusPending, enums.EarningStatusProcessing}).
		Update("status", enums.EarningStatusVoided)
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "void seller earnings")
	}
	return res.RowsAffected, nil
}
