package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
)

// Repository defines persistence operations for orders and sub-orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindLine(ctx context.Context, orderID, productID uuid.UUID) (*models.OrderLine, error)
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListPendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)

	ReserveRefund(ctx context.Context, id uuid.UUID, amountCents int64) (bool, error)
	ReleaseRefund(ctx context.Context, id uuid.UUID, amountCents int64) error
	SettleRefund(ctx context.Context, id uuid.UUID, amountCents int64) (bool, error)

	FindSubOrder(ctx context.Context, id uuid.UUID) (*models.SubOrder, error)
	ListSubOrders(ctx context.Context, orderID uuid.UUID) ([]models.SubOrder, error)
	CompareAndSetSubOrderStatus(ctx context.Context, id uuid.UUID, from, to enums.SubOrderStatus, updates map[string]any) (bool, error)
	CancelOpenSubOrders(ctx context.Context, orderID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order together with its lines.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Omit("SubOrders").Create(order).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.find(r.db.WithContext(ctx), id)
}

// LockByID loads the order and holds its row lock for the rest of the transaction.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *repository) find(db *gorm.DB, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := db.
		Preload("Lines", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC") }).
		Preload("SubOrders", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at ASC") }).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, mapFindErr(err, "order not found", "load order")
	}
	return &order, nil
}

func (r *repository) FindLine(ctx context.Context, orderID, productID uuid.UUID) (*models.OrderLine, error) {
	var line models.OrderLine
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND product_id = ?", orderID, productID).
		Order("position ASC").
		First(&line).Error
	if err != nil {
		return nil, mapFindErr(err, "order line not found", "load order line")
	}
	return &line, nil
}

// CompareAndSetStatus moves the order to `to` only if it is still in `from`.
func (r *repository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update order status")
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update order")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}

func (r *repository) ListPendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	query := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPendingPayment, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending payment orders")
	}
	return rows, nil
}

// ReserveRefund holds refund headroom on the order. It returns false when the
// amount would push refunded plus pending refunds past the order total.
func (r *repository) ReserveRefund(ctx context.Context, id uuid.UUID, amountCents int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Where("refunded_cents + refund_pending_cents + ? <= total_cents", amountCents).
		Updates(map[string]any{"refund_pending_cents": gorm.Expr("refund_pending_cents + ?", amountCents)})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve refund headroom")
	}
	return res.RowsAffected == 1, nil
}

// ReleaseRefund gives back headroom held by a refund that did not settle.
func (r *repository) ReleaseRefund(ctx context.Context, id uuid.UUID, amountCents int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{"refund_pending_cents": gorm.Expr(
			"CASE WHEN refund_pending_cents >= ? THEN refund_pending_cents - ? ELSE 0 END", amountCents, amountCents,
		)})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release refund headroom")
	}
	return nil
}

// SettleRefund moves held headroom into the refunded total.
func (r *repository) SettleRefund(ctx context.Context, id uuid.UUID, amountCents int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND refund_pending_cents >= ?", id, amountCents).
		Updates(map[string]any{
			"refunded_cents":       gorm.Expr("refunded_cents + ?", amountCents),
			"refund_pending_cents": gorm.Expr("refund_pending_cents - ?", amountCents),
		})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "settle refund")
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindSubOrder(ctx context.Context, id uuid.UUID) (*models.SubOrder, error) {
	var sub models.SubOrder
	if err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, mapFindErr(err, "sub-order not found", "load sub-order")
	}
	return &sub, nil
}

func (r *repository) ListSubOrders(ctx context.Context, orderID uuid.UUID) ([]models.SubOrder, error) {
	var rows []models.SubOrder
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sub-orders")
	}
	return rows, nil
}

func (r *repository) CompareAndSetSubOrderStatus(ctx context.Context, id uuid.UUID, from, to enums.SubOrderStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"fulfillment_status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.SubOrder{}).
		Where("id = ? AND fulfillment_status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update sub-order status")
	}
	return res.RowsAffected == 1, nil
}

// CancelOpenSubOrders cancels every sub-order that has not been delivered.
func (r *repository) CancelOpenSubOrders(ctx context.Context, orderID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SubOrder{}).
		Where("order_id = ?", orderID).
		Where("fulfillment_status NOT IN ?", []enums.SubOrderStatus{enums.SubOrderStatusDelivered, enums.SubOrderStatusCancelled}).
		Update("fulfillment_status", enums.SubOrderStatusCancelled)
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "cancel sub-orders")
	}
	return res.RowsAffected, nil
}

func mapFindErr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
