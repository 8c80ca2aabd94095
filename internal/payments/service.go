package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore/internal/orders"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
	"github.com/angelmondragon/marketcore/pkg/logger"
	"github.com/angelmondragon/marketcore/pkg/metrics"
)

// Session is what a client needs to complete payment for an order.
type Session struct {
	OrderID      uuid.UUID
	IntentID     string
	ClientSecret string
	AmountCents  int64
	Currency     string
}

// Service moves orders through payment capture on the gateway.
type Service interface {
	StartPayment(ctx context.Context, orderID uuid.UUID) (*Session, error)
	ConfirmPayment(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	CancelPayment(ctx context.Context, orderID uuid.UUID, reason string) (*models.Order, error)
}

// ServiceParams groups the payment service dependencies.
type ServiceParams struct {
	Repo    orders.Repository
	Orders  orders.Service
	Gateway Gateway
	Policy  RetryPolicy
	Logger  *logger.Logger
	Metrics *metrics.DomainMetrics
}

type service struct {
	repo    orders.Repository
	orders  orders.Service
	gateway Gateway
	policy  RetryPolicy
	logg    *logger.Logger
	metrics *metrics.DomainMetrics
}

// NewService wires the payment lifecycle.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders service required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    params.Repo,
		orders:  params.Orders,
		gateway: params.Gateway,
		policy:  params.Policy.withDefaults(),
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

// StartPayment creates the order's payment intent, or returns the existing
// one when a reference is already stored.
func (s *service) StartPayment(ctx context.Context, orderID uuid.UUID) (*Session, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusPendingPayment {
		return nil, notAwaitingPayment(order)
	}
	if order.TotalCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has nothing to collect")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	var intent *PaymentIntent
	if ref := paymentReference(order); ref != "" {
		err = Call(ctx, s.policy, s.metrics, "retrieve_payment_intent", func(ctx context.Context) error {
			var callErr error
			intent, callErr = s.gateway.RetrievePaymentIntent(ctx, ref)
			return callErr
		})
		if err != nil {
			return nil, err
		}
		return sessionFor(order, intent), nil
	}

	err = Call(ctx, s.policy, s.metrics, "create_payment_intent", func(ctx context.Context) error {
		var callErr error
		intent, callErr = s.gateway.CreatePaymentIntent(ctx, CreateIntentInput{
			AmountCents:    order.TotalCents,
			Currency:       order.Currency,
			Metadata:       map[string]string{"order_id": order.ID.String()},
			IdempotencyKey: OrderIdempotencyKey(order.ID.String()),
		})
		return callErr
	})
	if err != nil {
		s.logg.Error(ctx, "create payment intent failed", err)
		return nil, err
	}
	if err := s.repo.Update(ctx, order.ID, map[string]any{"payment_reference": intent.ID}); err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithField(ctx, "payment_reference", intent.ID), "payment started")
	return sessionFor(order, intent), nil
}

// ConfirmPayment marks the order paid once the gateway reports the intent
// succeeded for exactly the order total.
func (s *service) ConfirmPayment(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusPaid {
		return order, nil
	}
	if order.Status != enums.OrderStatusPendingPayment {
		return nil, notAwaitingPayment(order)
	}
	ref := paymentReference(order)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has not been started")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	var intent *PaymentIntent
	err = Call(ctx, s.policy, s.metrics, "retrieve_payment_intent", func(ctx context.Context) error {
		var callErr error
		intent, callErr = s.gateway.RetrievePaymentIntent(ctx, ref)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if intent.Status != IntentStatusSucceeded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has not succeeded").
			WithDetails(map[string]any{"intent_status": intent.Status})
	}
	if intent.AmountCents != order.TotalCents || !strings.EqualFold(intent.Currency, order.Currency) {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"intent_amount_cents": intent.AmountCents,
			"order_total_cents":   order.TotalCents,
		}), "captured amount does not match order total")
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "captured amount does not match order total").
			WithDetails(map[string]any{
				"captured_cents": intent.AmountCents,
				"total_cents":    order.TotalCents,
			})
	}

	return s.orders.Transition(ctx, orders.TransitionInput{
		OrderID: order.ID,
		To:      enums.OrderStatusPaid,
		Reason:  "payment captured",
	})
}

// CancelPayment voids the intent, when one exists, and cancels the order.
func (s *service) CancelPayment(ctx context.Context, orderID uuid.UUID, reason string) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusPendingPayment {
		return nil, notAwaitingPayment(order)
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	if ref := paymentReference(order); ref != "" {
		err = Call(ctx, s.policy, s.metrics, "cancel_payment_intent", func(ctx context.Context) error {
			_, callErr := s.gateway.CancelPaymentIntent(ctx, ref, "cancel_"+order.ID.String())
			return callErr
		})
		if err != nil {
			s.logg.Error(ctx, "cancel payment intent failed", err)
			return nil, err
		}
	}

	if strings.TrimSpace(reason) == "" {
		reason = "payment cancelled"
	}
	return s.orders.Transition(ctx, orders.TransitionInput{
		OrderID: order.ID,
		To:      enums.OrderStatusCancelled,
		Reason:  reason,
	})
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.repo.FindByID(ctx, orderID)
}

func paymentReference(order *models.Order) string {
	if order.PaymentReference == nil {
		return ""
	}
	return strings.TrimSpace(*order.PaymentReference)
}

func sessionFor(order *models.Order, intent *PaymentIntent) *Session {
	return &Session{
		OrderID:      order.ID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  intent.AmountCents,
		Currency:     intent.Currency,
	}
}

func notAwaitingPayment(order *models.Order) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment").
		WithDetails(map[string]any{"status": string(order.Status)})
}
