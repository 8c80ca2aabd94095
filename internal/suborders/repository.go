package suborders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
)

// Repository writes sub-order rows and links order lines to them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateMany(ctx context.Context, subOrders []models.SubOrder) error
	AssignLines(ctx context.Context, subOrderID uuid.UUID, lineIDs []uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the sub-order repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateMany(ctx context.Context, subOrders []models.SubOrder) error {
	if len(subOrders) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&subOrders).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create sub-orders")
	}
	return nil
}

func (r *repository) AssignLines(ctx context.Context, subOrderID uuid.UUID, lineIDs []uuid.UUID) error {
	if len(lineIDs) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.OrderLine{}).
		Where("id IN ?", lineIDs).
		Update("sub_order_id", subOrderID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "assign order lines")
	}
	if res.RowsAffected != int64(len(lineIDs)) {
		return pkgerrors.New(pkgerrors.CodeInternal, "not every order line was assigned").
			WithDetails(map[string]any{"expected": len(lineIDs), "assigned": res.RowsAffected})
	}
	return nil
}
