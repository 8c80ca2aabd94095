package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketcore/internal/settlement"
	"github.com/angelmondragon/marketcore/pkg/actor"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
	"github.com/angelmondragon/marketcore/pkg/logger"
)

const (
	defaultPaymentExpiry  = 30 * time.Minute
	defaultReconcileAfter = 15 * time.Minute
	expiryBatchSize       = 200
)

// Job names, also used as metric labels.
const (
	EscrowReleaseJobName   = "escrow-release"
	PaymentExpiryJobName   = "payment-expiry"
	RefundReconcileJobName = "refund-reconcile"
)

type escrowReleaser interface {
	ReleaseDue(ctx context.Context) (int64, error)
}

type escrowReleaseJob struct {
	logg   *logger.Logger
	escrow escrowReleaser
}

// NewEscrowReleaseJob makes pending seller earnings available once their
// holding period has passed.
func NewEscrowReleaseJob(logg *logger.Logger, escrow escrowReleaser) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if escrow == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	return &escrowReleaseJob{logg: logg, escrow: escrow}, nil
}

func (j *escrowReleaseJob) Name() string { return EscrowReleaseJobName }

func (j *escrowReleaseJob) Run(ctx context.Context) error {
	released, err := j.escrow.ReleaseDue(ctx)
	if err != nil {
		return err
	}
	if released > 0 {
		j.logg.Info(j.logg.WithField(ctx, "released", released), "seller earnings released")
	}
	return nil
}

type pendingOrderLister interface {
	ListPendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type paymentCanceller interface {
	CancelPayment(ctx context.Context, orderID uuid.UUID, reason string) (*models.Order, error)
}

// PaymentExpiryJobParams configure the unpaid order sweep.
type PaymentExpiryJobParams struct {
	Logger   *logger.Logger
	Orders   pendingOrderLister
	Payments paymentCanceller
	TTL      time.Duration
}

type paymentExpiryJob struct {
	logg     *logger.Logger
	orders   pendingOrderLister
	payments paymentCanceller
	ttl      time.Duration
	now      func() time.Time
}

// NewPaymentExpiryJob cancels orders left in pending_payment longer than
// the TTL, which voids the intent and releases their reservations.
func NewPaymentExpiryJob(params PaymentExpiryJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Payments == nil:
		return nil, fmt.Errorf("payments service required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPaymentExpiry
	}
	return &paymentExpiryJob{
		logg:     params.Logger,
		orders:   params.Orders,
		payments: params.Payments,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (j *paymentExpiryJob) Name() string { return PaymentExpiryJobName }

func (j *paymentExpiryJob) Run(ctx context.Context) error {
	stale, err := j.orders.ListPendingPaymentBefore(ctx, j.now().Add(-j.ttl), expiryBatchSize)
	if err != nil {
		return err
	}
	ctx = actor.With(ctx, actor.System())

	var (
		errs      error
		cancelled int
	)
	for _, order := range stale {
		orderCtx := j.logg.WithOrderID(ctx, order.ID.String())
		_, err := j.payments.CancelPayment(orderCtx, order.ID, "payment window expired")
		switch {
		case err == nil:
			cancelled++
		case pkgerrors.Is(err, pkgerrors.CodeStateConflict), pkgerrors.Is(err, pkgerrors.CodeInvalidTransition):
			// paid or cancelled since it was listed
			j.logg.Info(orderCtx, "order left pending_payment before expiry")
		default:
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
		}
	}
	if cancelled > 0 {
		j.logg.Info(j.logg.WithField(ctx, "cancelled", cancelled), "expired unpaid orders")
	}
	return errs
}

type refundReconciler interface {
	Reconcile(ctx context.Context, olderThan time.Duration) (settlement.ReconcileResult, error)
}

type refundReconcileJob struct {
	logg       *logger.Logger
	reconciler refundReconciler
	after      time.Duration
}

// NewRefundReconcileJob re-drives refunds stuck in processing for longer
// than after.
func NewRefundReconcileJob(logg *logger.Logger, reconciler refundReconciler, after time.Duration) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("refund processor required")
	}
	if after <= 0 {
		after = defaultReconcileAfter
	}
	return &refundReconcileJob{logg: logg, reconciler: reconciler, after: after}, nil
}

func (j *refundReconcileJob) Name() string { return RefundReconcileJobName }

func (j *refundReconcileJob) Run(ctx context.Context) error {
	result, err := j.reconciler.Reconcile(actor.With(ctx, actor.System()), j.after)
	if result.Scanned > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"scanned":   result.Scanned,
			"completed": result.Completed,
			"failed":    result.Failed,
		}), "refund reconciliation pass")
	}
	return err
}
