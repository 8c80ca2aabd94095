package cart

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

// Repository exposes the persistence operations checkout needs on carts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, cart *models.Cart) error
	FindActive(ctx context.Context, customerID uuid.UUID) (*models.Cart, error)
	ClearActive(ctx context.Context, customerID, orderID uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts a cart and its items.
func (r *repository) Create(ctx context.Context, cart *models.Cart) error {
	if cart.Status == "" {
		cart.Status = enums.CartStatusActive
	}
	if err := r.db.WithContext(ctx).Create(cart).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	return nil
}

// FindActive loads the customer's active cart with items, or NOT_FOUND.
func (r *repository) FindActive(ctx context.Context, customerID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("customer_id = ? AND status = ?", customerID, enums.CartStatusActive).
		Order("created_at DESC").
		First(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "active cart not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return &cart, nil
}

// ClearActive converts the customer's active cart into the order and drops its
// items. It reports whether a cart was cleared; a missing cart is not an error.
func (r *repository) ClearActive(ctx context.Context, customerID, orderID uuid.UUID) (bool, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("customer_id = ? AND status = ?", customerID, enums.CartStatusActive).
		Pluck("id", &ids).Error; err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find active cart")
	}
	if len(ids) == 0 {
		return false, nil
	}
	if err := r.db.WithContext(ctx).
		Where("cart_id IN ?", ids).
		Delete(&models.CartItem{}).Error; err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart items")
	}
	now := time.Now().UTC()
	if err := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"status":       enums.CartStatusConverted,
			"order_id":     orderID,
			"converted_at": now,
		}).Error; err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "convert cart")
	}
	return true, nil
}
