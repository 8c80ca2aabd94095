package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/internal/inventory"
	"github.com/angelmondragon/marketcore/internal/notify"
	"github.com/angelmondragon/marketcore/pkg/actor"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
	"github.com/angelmondragon/marketcore/pkg/logger"
	"github.com/angelmondragon/marketcore/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// EarningsVoider cancels the escrowed seller earnings of an order.
type EarningsVoider interface {
	VoidOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
}

// Service drives the order status state machine.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
	ApplyRefundTotals(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, amountCents int64) (*RefundOutcome, error)
	UpdateSubOrderFulfillment(ctx context.Context, input SubOrderFulfillmentInput) (*models.SubOrder, error)
}

// TransitionInput requests an ordinary status change. ActorID falls back to
// the authenticated actor on ctx.
type TransitionInput struct {
	OrderID uuid.UUID
	To      enums.OrderStatus
	ActorID *uuid.UUID
	Reason  string
}

// SubOrderFulfillmentInput advances one seller's fulfillment.
type SubOrderFulfillmentInput struct {
	SubOrderID uuid.UUID
	To         enums.SubOrderStatus
}

// RefundOutcome is the order state after a settled refund. The caller
// dispatches the status change once its transaction commits.
type RefundOutcome struct {
	Order *models.Order
	From  enums.OrderStatus
	To    enums.OrderStatus
	At    time.Time
}

// Changed reports whether the refund moved the order to a new status.
func (o *RefundOutcome) Changed() bool {
	return o != nil && o.From != o.To
}

type service struct {
	repo   Repository
	tx     txRunner
	ledger   inventory.Ledger
	earnings EarningsVoider
	events   notify.Sink
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, tx txRunner, ledger inventory.Ledger, earnings EarningsVoider, events notify.Sink, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if earnings == nil {
		return nil, fmt.Errorf("earnings voider required")
	}
	if events == nil {
		return nil, fmt.Errorf("event sink required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		ledger:   ledger,
		earnings: earnings,
		events:   events,
		logg:     logg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.repo.FindByID(ctx, id)
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
			WithDetails(map[string]any{"to": string(input.To)})
	}
	actorID := actor.Resolve(ctx, input.ActorID)
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())

	var (
		updated *models.Order
		from    enums.OrderStatus
		at      = s.now()
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockByID(ctx, input.OrderID)
		if err != nil {
			return err
		}
		from = order.Status
		if !CanTransition(from, input.To) {
			return invalidTransition(from, input.To)
		}

		if err := s.applySideEffects(ctx, tx, order, input.To); err != nil {
			return err
		}

		ok, err := repo.CompareAndSetStatus(ctx, order.ID, from, input.To, stamps(input.To, actorID, at))
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently").
				WithDetails(map[string]any{"expected": string(from)})
		}

		if input.To == enums.OrderStatusCancelled {
			if _, err := repo.CancelOpenSubOrders(ctx, order.ID); err != nil {
				return err
			}
			// Sellers never ship a cancelled order, so nothing escrowed for it may be released.
			if _, err := s.earnings.VoidOrder(ctx, tx, order.ID); err != nil {
				return err
			}
		}

		updated, err = repo.FindByID(ctx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"from": string(from),
		"to":   string(input.To),
	}), "order status changed")
	s.events.Dispatch(ctx, notify.OrderStatusChanged(updated, from, input.To, actorID, input.Reason, at))
	return updated, nil
}

// applySideEffects runs the inventory consequences of entering `to` on the
// caller's transaction.
func (s *service) applySideEffects(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus) error {
	ledger := s.ledger.WithTx(tx)
	switch {
	case to == enums.OrderStatusPaid:
		for _, line := range order.Lines {
			key := inventory.KeyFor(line.ProductID, line.VariantID)
			if err := ledger.Fulfill(ctx, key, line.Quantity, &order.ID); err != nil {
				return err
			}
		}
	case to == enums.OrderStatusCancelled && order.Status == enums.OrderStatusPendingPayment:
		for _, line := range order.Lines {
			key := inventory.KeyFor(line.ProductID, line.VariantID)
			if err := ledger.Release(ctx, key, line.Quantity, &order.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func stamps(to enums.OrderStatus, actorID *uuid.UUID, at time.Time) map[string]any {
	updates := map[string]any{}
	switch to {
	case enums.OrderStatusPaid:
		updates["paid_at"] = at
	case enums.OrderStatusShipped:
		updates["shipped_at"] = at
		updates["shipped_by"] = actorID
	case enums.OrderStatusDelivered:
		updates["delivered_at"] = at
		updates["delivered_by"] = actorID
	case enums.OrderStatusCancelled:
		updates["cancelled_at"] = at
	}
	return updates
}

// ApplyRefundTotals books a settled refund on the order inside tx and moves
// it to partially_refunded or refunded. Only settlement calls it.
func (s *service) ApplyRefundTotals(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, amountCents int64) (*RefundOutcome, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	repo := s.repo.WithTx(tx)
	order, err := repo.LockByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	from := order.Status
	target := enums.OrderStatusPartiallyRefunded
	if order.RefundedCents+amountCents >= order.TotalCents {
		target = enums.OrderStatusRefunded
	}
	if !canRefundTransition(from, target) {
		return nil, invalidTransition(from, target)
	}

	ok, err := repo.SettleRefund(ctx, orderID, amountCents)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund was not reserved on the order").
			WithDetails(map[string]any{"amount_cents": amountCents})
	}
	if target != from {
		ok, err = repo.CompareAndSetStatus(ctx, orderID, from, target, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
		}
	}

	updated, err := repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &RefundOutcome{Order: updated, From: from, To: target, At: s.now()}, nil
}

func (s *service) UpdateSubOrderFulfillment(ctx context.Context, input SubOrderFulfillmentInput) (*models.SubOrder, error) {
	if input.SubOrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sub-order id required")
	}
	if !input.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown fulfillment status")
	}

	var (
		sub  *models.SubOrder
		from enums.SubOrderStatus
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindSubOrder(ctx, input.SubOrderID)
		if err != nil {
			return err
		}
		from = current.FulfillmentStatus
		if !contains(subOrderTransitions[from], input.To) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "fulfillment transition not allowed").
				WithDetails(map[string]any{"from": string(from), "to": string(input.To)})
		}
		updates := map[string]any{}
		switch input.To {
		case enums.SubOrderStatusShipped:
			updates["shipped_at"] = s.now()
		case enums.SubOrderStatusDelivered:
			updates["delivered_at"] = s.now()
		}
		ok, err := repo.CompareAndSetSubOrderStatus(ctx, current.ID, from, input.To, updates)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "sub-order status changed concurrently")
		}
		sub, err = repo.FindSubOrder(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.events.Dispatch(ctx, notify.SubOrderStatusChanged(sub, from, input.To))
	return sub, nil
}

// RefundStatusEvent builds the status-changed event for a refund outcome.
func RefundStatusEvent(outcome *RefundOutcome, actorID *uuid.UUID) outbox.DomainEvent {
	return notify.OrderStatusChanged(outcome.Order, outcome.From, outcome.To, actorID, "refund settled", outcome.At)
}

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, "status transition not allowed").
		WithDetails(map[string]any{
			"from":    string(from),
			"to":      string(to),
			"allowed": AllowedTransitions(from),
		})
}
