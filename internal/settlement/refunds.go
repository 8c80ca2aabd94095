package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/internal/escrow"
	"github.com/angelmondragon/marketcore/internal/inventory"
	"github.com/angelmondragon/marketcore/internal/notify"
	"github.com/angelmondragon/marketcore/internal/orders"
	"github.com/angelmondragon/marketcore/internal/payments"
	"github.com/angelmondragon/marketcore/internal/returns"
	"github.com/angelmondragon/marketcore/pkg/actor"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
	"github.com/angelmondragon/marketcore/pkg/logger"
	"github.com/angelmondragon/marketcore/pkg/metrics"
	"github.com/angelmondragon/marketcore/pkg/outbox"
	"github.com/angelmondragon/marketcore/pkg/validation"
)

const reconcileBatchSize = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ApproveInput approves a pending request. ReviewerID falls back to the
// authenticated actor on ctx.
type ApproveInput struct {
	RequestID  uuid.UUID  `validate:"required"`
	ReviewerID *uuid.UUID `validate:"omitempty"`
}

// RejectInput closes a pending request without moving money or stock.
type RejectInput struct {
	RequestID  uuid.UUID  `validate:"required"`
	ReviewerID *uuid.UUID `validate:"omitempty"`
	Reason     string     `validate:"required,max=1000"`
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Scanned   int
	Completed int
	Failed    int
}

// RefundProcessor settles approved refund requests against the gateway.
type RefundProcessor interface {
	Approve(ctx context.Context, input ApproveInput) (*models.RefundRequest, error)
	Reject(ctx context.Context, input RejectInput) (*models.RefundRequest, error)
	Reconcile(ctx context.Context, olderThan time.Duration) (ReconcileResult, error)
}

// RefundProcessorParams groups the refund processor dependencies.
type RefundProcessorParams struct {
	Tx         txRunner
	Requests   returns.Repository
	OrdersRepo orders.Repository
	Orders     orders.Service
	Escrow     escrow.Service
	Ledger     inventory.Ledger
	Gateway    payments.Gateway
	Policy     payments.RetryPolicy
	Events     notify.Sink
	Logger     *logger.Logger
	Metrics    *metrics.DomainMetrics
}

type refundProcessor struct {
	tx         txRunner
	requests   returns.Repository
	ordersRepo orders.Repository
	orders     orders.Service
	escrow     escrow.Service
	ledger     inventory.Ledger
	gateway    payments.Gateway
	policy     payments.RetryPolicy
	events     notify.Sink
	logg       *logger.Logger
	metrics    *metrics.DomainMetrics
	now        func() time.Time
}

// NewRefundProcessor wires the refund settlement flow.
func NewRefundProcessor(params RefundProcessorParams) (RefundProcessor, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Requests == nil:
		return nil, fmt.Errorf("request repository required")
	case params.OrdersRepo == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders service required")
	case params.Escrow == nil:
		return nil, fmt.Errorf("escrow service required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("inventory ledger required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case params.Events == nil:
		return nil, fmt.Errorf("event sink required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &refundProcessor{
		tx:         params.Tx,
		requests:   params.Requests,
		ordersRepo: params.OrdersRepo,
		orders:     params.Orders,
		escrow:     params.Escrow,
		ledger:     params.Ledger,
		gateway:    params.Gateway,
		policy:     params.Policy,
		events:     params.Events,
		logg:       params.Logger,
		metrics:    params.Metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Approve claims the request, holds refund headroom on the order and drives
// the gateway refund to completion or failure.
func (p *refundProcessor) Approve(ctx context.Context, input ApproveInput) (*models.RefundRequest, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	reviewer := actor.Resolve(ctx, input.ReviewerID)

	var (
		req   *models.RefundRequest
		order *models.Order
	)
	err := p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		requests := p.requests.WithTx(tx)
		current, err := requests.FindRefund(ctx, input.RequestID)
		if err != nil {
			return err
		}
		ok, err := requests.CompareAndSetRefundStatus(ctx, current.ID, enums.RefundRequestStatusPending, enums.RefundRequestStatusProcessing, map[string]any{
			"reviewer_id": reviewer,
			"reviewed_at": p.now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return alreadyProcessed(string(current.Status))
		}

		ordersRepo := p.ordersRepo.WithTx(tx)
		order, err = ordersRepo.LockByID(ctx, current.OrderID)
		if err != nil {
			return err
		}
		if !orders.CanRefund(order.Status) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "order cannot be refunded in its current status").
				WithDetails(map[string]any{"status": string(order.Status)})
		}
		if order.PaymentReference == nil || strings.TrimSpace(*order.PaymentReference) == "" {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no captured payment")
		}
		reserved, err := ordersRepo.ReserveRefund(ctx, order.ID, current.AmountCents)
		if err != nil {
			return err
		}
		if !reserved {
			return pkgerrors.New(pkgerrors.CodeRefundLimitExceeded, "refund would exceed the order total").
				WithDetails(map[string]any{
					"amount_cents":         current.AmountCents,
					"refunded_cents":       order.RefundedCents,
					"refund_pending_cents": order.RefundPendingCents,
					"total_cents":          order.TotalCents,
				})
		}

		req, err = requests.FindRefund(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return p.drive(ctx, req, *order.PaymentReference)
}

// drive sends the refund to the gateway and books the outcome. A request
// whose gateway outcome is unknown stays processing for Reconcile.
func (p *refundProcessor) drive(ctx context.Context, req *models.RefundRequest, paymentRef string) (*models.RefundRequest, error) {
	ctx = p.logg.WithRequestRecord(p.logg.WithOrderID(ctx, req.OrderID.String()), string(enums.RequestKindRefund), req.ID.String())

	var refund *payments.Refund
	err := payments.Call(ctx, p.policy, p.metrics, "create_refund", func(ctx context.Context) error {
		var callErr error
		refund, callErr = p.gateway.CreateRefund(ctx, payments.CreateRefundInput{
			PaymentReference: paymentRef,
			AmountCents:      req.AmountCents,
			Reason:           payments.RefundReasonRequestedByCustomer,
			Metadata: map[string]string{
				"order_id":          req.OrderID.String(),
				"refund_request_id": req.ID.String(),
			},
			IdempotencyKey: payments.RefundIdempotencyKey(req.ID.String()),
		})
		return callErr
	})
	if err != nil {
		if ctx.Err() != nil {
			p.logg.Warn(ctx, "refund outcome unknown, left for reconciliation")
			return nil, err
		}
		return nil, p.fail(ctx, req, err)
	}
	return p.complete(ctx, req, refund)
}

func (p *refundProcessor) complete(ctx context.Context, req *models.RefundRequest, refund *payments.Refund) (*models.RefundRequest, error) {
	var (
		updated *models.RefundRequest
		outcome *orders.RefundOutcome
	)
	err := p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		requests := p.requests.WithTx(tx)
		ok, err := requests.CompareAndSetRefundStatus(ctx, req.ID, enums.RefundRequestStatusProcessing, enums.RefundRequestStatusCompleted, map[string]any{
			"gateway_refund_id": refund.ID,
			"processed_at":      p.now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund request changed during settlement")
		}

		outcome, err = p.orders.ApplyRefundTotals(ctx, tx, req.OrderID, req.AmountCents)
		if err != nil {
			return err
		}

		if req.SellerID != nil {
			if _, err := p.escrow.DeductRefund(ctx, tx, req.OrderID, *req.SellerID, req.AmountCents); err != nil {
				if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
					return err
				}
				p.logg.Warn(ctx, "no seller earnings to deduct refund from")
			}
		}

		if line := findLine(outcome.Order, req.OrderLineID); line != nil {
			key := inventory.KeyFor(line.ProductID, line.VariantID)
			if err := p.ledger.WithTx(tx).Restore(ctx, key, req.Quantity, &req.OrderID); err != nil {
				if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
					return err
				}
				p.logg.Warn(p.logg.WithField(ctx, "inventory_key", key.String()), "refunded stock has no inventory record")
			}
		}

		updated, err = requests.FindRefund(ctx, req.ID)
		return err
	})
	if err != nil {
		p.logg.Error(ctx, "refund settled at gateway but booking failed", err)
		return nil, err
	}

	p.metrics.IncRefundSettled(string(enums.RefundRequestStatusCompleted))
	p.logg.Info(p.logg.WithFields(ctx, map[string]any{
		"amount_cents":      updated.AmountCents,
		"gateway_refund_id": refund.ID,
		"order_status":      string(outcome.To),
	}), "refund completed")

	events := []outbox.DomainEvent{notify.RefundRequestDecided(updated)}
	if outcome.Changed() {
		events = append(events, orders.RefundStatusEvent(outcome, updated.ReviewerID))
	}
	p.events.Dispatch(ctx, events...)
	return updated, nil
}

// fail records a refused refund and gives the held headroom back. The
// gateway error is returned to the caller.
func (p *refundProcessor) fail(ctx context.Context, req *models.RefundRequest, cause error) error {
	reason := cause.Error()
	if typed := pkgerrors.As(cause); typed != nil {
		reason = typed.Message()
	}

	var updated *models.RefundRequest
	err := p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		requests := p.requests.WithTx(tx)
		ok, err := requests.CompareAndSetRefundStatus(ctx, req.ID, enums.RefundRequestStatusProcessing, enums.RefundRequestStatusFailed, map[string]any{
			"failure_reason": reason,
			"processed_at":   p.now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund request changed during settlement")
		}
		if err := p.ordersRepo.WithTx(tx).ReleaseRefund(ctx, req.OrderID, req.AmountCents); err != nil {
			return err
		}
		updated, err = requests.FindRefund(ctx, req.ID)
		return err
	})
	if err != nil {
		p.logg.Error(ctx, "recording failed refund", err)
		return multierr.Append(cause, err)
	}

	p.metrics.IncRefundSettled(string(enums.RefundRequestStatusFailed))
	p.logg.Error(ctx, "refund failed at gateway", cause)
	p.events.Dispatch(ctx, notify.RefundRequestDecided(updated), notify.RefundSettlementFailed(updated, cause))
	return cause
}

func (p *refundProcessor) Reject(ctx context.Context, input RejectInput) (*models.RefundRequest, error) {
	input.Reason = strings.TrimSpace(input.Reason)
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	reviewer := actor.Resolve(ctx, input.ReviewerID)

	current, err := p.requests.FindRefund(ctx, input.RequestID)
	if err != nil {
		return nil, err
	}
	now := p.now()
	ok, err := p.requests.CompareAndSetRefundStatus(ctx, current.ID, enums.RefundRequestStatusPending, enums.RefundRequestStatusRejected, map[string]any{
		"rejection_reason": input.Reason,
		"reviewer_id":      reviewer,
		"reviewed_at":      now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, alreadyProcessed(string(current.Status))
	}
	updated, err := p.requests.FindRefund(ctx, current.ID)
	if err != nil {
		return nil, err
	}

	ctx = p.logg.WithRequestRecord(p.logg.WithOrderID(ctx, updated.OrderID.String()), string(enums.RequestKindRefund), updated.ID.String())
	p.logg.Info(ctx, "refund request rejected")
	p.events.Dispatch(ctx, notify.RefundRequestDecided(updated))
	return updated, nil
}

// Reconcile re-drives requests stuck in processing. The gateway call reuses
// the request's idempotency key, so a refund that already went through is
// returned rather than issued again.
func (p *refundProcessor) Reconcile(ctx context.Context, olderThan time.Duration) (ReconcileResult, error) {
	var result ReconcileResult
	if olderThan < 0 {
		return result, pkgerrors.New(pkgerrors.CodeValidation, "reconcile age must not be negative")
	}
	stuck, err := p.requests.ListRefundsInStatusBefore(ctx, enums.RefundRequestStatusProcessing, p.now().Add(-olderThan), reconcileBatchSize)
	if err != nil {
		return result, err
	}

	var errs error
	for i := range stuck {
		if err := ctx.Err(); err != nil {
			return result, multierr.Append(errs, err)
		}
		req := &stuck[i]
		result.Scanned++

		order, err := p.ordersRepo.FindByID(ctx, req.OrderID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if order.PaymentReference == nil {
			errs = multierr.Append(errs, p.fail(ctx, req, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no captured payment")))
			result.Failed++
			continue
		}
		if _, err := p.drive(ctx, req, *order.PaymentReference); err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeGateway) {
				result.Failed++
			}
			errs = multierr.Append(errs, err)
			continue
		}
		result.Completed++
	}
	return result, errs
}

func findLine(order *models.Order, lineID uuid.UUID) *models.OrderLine {
	if order == nil {
		return nil
	}
	for i := range order.Lines {
		if order.Lines[i].ID == lineID {
			return &order.Lines[i]
		}
	}
	return nil
}

func alreadyProcessed(status string) error {
	return pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "request has already been processed").
		WithDetails(map[string]any{"status": status})
}
