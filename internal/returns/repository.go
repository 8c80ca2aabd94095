package returns

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

// Unique indexes guarding one open request per order line.
const (
	RefundOpenIndex      = "ux_refund_requests_open"
	ReplacementOpenIndex = "ux_replacement_requests_open"
)

// Repository persists refund and replacement requests.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateRefund(ctx context.Context, req *models.RefundRequest) error
	FindRefund(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	FindOpenRefund(ctx context.Context, orderID, productID uuid.UUID) (*models.RefundRequest, error)
	CompareAndSetRefundStatus(ctx context.Context, id uuid.UUID, from, to enums.RefundRequestStatus, updates map[string]any) (bool, error)
	ListRefundsInStatusBefore(ctx context.Context, status enums.RefundRequestStatus, cutoff time.Time, limit int) ([]models.RefundRequest, error)

	CreateReplacement(ctx context.Context, req *models.ReplacementRequest) error
	FindReplacement(ctx context.Context, id uuid.UUID) (*models.ReplacementRequest, error)
	FindOpenReplacement(ctx context.Context, orderID, productID uuid.UUID) (*models.ReplacementRequest, error)
	CompareAndSetReplacementStatus(ctx context.Context, id uuid.UUID, from, to enums.ReplacementRequestStatus, updates map[string]any) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the request repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateRefund(ctx context.Context, req *models.RefundRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund request")
	}
	return nil
}

func (r *repository) FindRefund(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	var req models.RefundRequest
	if err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		return nil, mapFindErr(err, "refund request not found", "load refund request")
	}
	return &req, nil
}

// FindOpenRefund returns nil when no request blocks the line.
func (r *repository) FindOpenRefund(ctx context.Context, orderID, productID uuid.UUID) (*models.RefundRequest, error) {
	var req models.RefundRequest
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND product_id = ?", orderID, productID).
		Where("status NOT IN ?", []enums.RefundRequestStatus{enums.RefundRequestStatusRejected, enums.RefundRequestStatusFailed}).
		Order("created_at ASC").
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open refund request")
	}
	return &req, nil
}

func (r *repository) CompareAndSetRefundStatus(ctx context.Context, id uuid.UUID, from, to enums.RefundRequestStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update refund request status")
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListRefundsInStatusBefore(ctx context.Context, status enums.RefundRequestStatus, cutoff time.Time, limit int) ([]models.RefundRequest, error) {
	var rows []models.RefundRequest
	q := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, cutoff).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refund requests")
	}
	return rows, nil
}

func (r *repository) CreateReplacement(ctx context.Context, req *models.ReplacementRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create replacement request")
	}
	return nil
}

func (r *repository) FindReplacement(ctx context.Context, id uuid.UUID) (*models.ReplacementRequest, error) {
	var req models.ReplacementRequest
	if err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		return nil, mapFindErr(err, "replacement request not found", "load replacement request")
	}
	return &req, nil
}

// FindOpenReplacement returns nil when no request blocks the line.
func (r *repository) FindOpenReplacement(ctx context.Context, orderID, productID uuid.UUID) (*models.ReplacementRequest, error) {
	var req models.ReplacementRequest
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND product_id = ?", orderID, productID).
		Where("status <> ?", enums.ReplacementRequestStatusRejected).
		Order("created_at ASC").
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open replacement request")
	}
	return &req, nil
}

func (r *repository) CompareAndSetReplacementStatus(ctx context.Context, id uuid.UUID, from, to enums.ReplacementRequestStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.ReplacementRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update replacement request status")
	}
	return res.RowsAffected == 1, nil
}

func mapFindErr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
