package settlement

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/internal/escrow"
	"github.com/angelmondragon/marketcore/internal/inventory"
	"github.com/angelmondragon/marketcore/internal/orders"
	"github.com/angelmondragon/marketcore/internal/payments"
	"github.com/angelmondragon/marketcore/internal/returns"
	"github.com/angelmondragon/marketcore/pkg/actor"
	"github.com/angelmondragon/marketcore/pkg/db/dbtest"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
	"github.com/angelmondragon/marketcore/pkg/logger"
	"github.com/angelmondragon/marketcore/pkg/outbox"
)

type recordingSink struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
}

func (r *recordingSink) Dispatch(_ context.Context, events ...outbox.DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingSink) types() []enums.OutboxEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]enums.OutboxEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

// scriptedGateway fails with the queued errors, then refunds.
type scriptedGateway struct {
	mu       sync.Mutex
	failures []error
	refunds  []payments.CreateRefundInput
}

func (g *scriptedGateway) CreatePaymentIntent(context.Context, payments.CreateIntentInput) (*payments.PaymentIntent, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not used")
}

func (g *scriptedGateway) RetrievePaymentIntent(context.Context, string) (*payments.PaymentIntent, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not used")
}

func (g *scriptedGateway) CancelPaymentIntent(context.Context, string, string) (*payments.PaymentIntent, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not used")
}

func (g *scriptedGateway) CreateRefund(_ context.Context, input payments.CreateRefundInput) (*payments.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, input)
	if len(g.failures) > 0 {
		err := g.failures[0]
		g.failures = g.failures[1:]
		return nil, err
	}
	return &payments.Refund{ID: "re_" + input.IdempotencyKey, Status: "succeeded", AmountCents: input.AmountCents}, nil
}

func transient() error {
	return pkgerrors.New(pkgerrors.CodeGateway, "gateway unavailable").WithRetryable(true)
}

type fixture struct {
	db       *gorm.DB
	refunds  RefundProcessor
	replaces ReplacementProcessor
	gateway  *scriptedGateway
	sink     *recordingSink
	ledger   inventory.Ledger

	order    *models.Order
	seller   uuid.UUID
	customer uuid.UUID
	jacket   inventory.Key
	socks    inventory.Key
}

// newFixture stores a delivered, paid order: 2 x 20.00 jackets and
// 3 x 10.00 socks from one seller, 5.00 shipping, 75.00 total, with the
// seller's escrow row credited at 10% commission.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Client(t)
	conn := client.DB()
	logg := logger.New(logger.Options{ServiceName: "settlement-test", Output: &bytes.Buffer{}})
	ledger := inventory.NewLedger(conn, nil)
	sink := &recordingSink{}
	gateway := &scriptedGateway{}

	ordersRepo := orders.NewRepository(conn)
	escrowSvc, err := escrow.NewService(escrow.NewRepository(conn), 0)
	require.NoError(t, err)
	orderSvc, err := orders.NewService(ordersRepo, client, ledger, escrowSvc, sink, logg)
	require.NoError(t, err)

	refunds, err := NewRefundProcessor(RefundProcessorParams{
		Tx:         client,
		Requests:   returns.NewRepository(conn),
		OrdersRepo: ordersRepo,
		Orders:     orderSvc,
		Escrow:     escrowSvc,
		Ledger:     ledger,
		Gateway:    gateway,
		Policy:     payments.RetryPolicy{Timeout: time.Second, MaxAttempts: 3, BaseBackoff: time.Millisecond},
		Events:     sink,
		Logger:     logg,
	})
	require.NoError(t, err)
	replaces, err := NewReplacementProcessor(client, returns.NewRepository(conn), ordersRepo, ledger, sink, logg)
	require.NoError(t, err)

	f := &fixture{
		db:       conn,
		refunds:  refunds,
		replaces: replaces,
		gateway:  gateway,
		sink:     sink,
		ledger:   ledger,
		seller:   uuid.New(),
		customer: uuid.New(),
	}

	jacketID, socksID := uuid.New(), uuid.New()
	require.NoError(t, conn.Create(&models.ProductInventory{ProductID: jacketID, Quantity: 8}).Error)
	require.NoError(t, conn.Create(&models.ProductInventory{ProductID: socksID, Quantity: 20}).Error)
	f.jacket, f.socks = inventory.ProductKey(jacketID), inventory.ProductKey(socksID)

	ref := "pi_paid"
	delivered := time.Now().UTC().Add(-48 * time.Hour)
	f.order = &models.Order{
		UserID:            &f.customer,
		Status:            enums.OrderStatusDelivered,
		Currency:          "usd",
		SubtotalCents:     7000,
		ShippingCents:     500,
		TotalCents:        7500,
		CommissionCents:   700,
		SellerPayoutCents: 6300,
		SellerID:          &f.seller,
		PaymentReference:  &ref,
		DeliveredAt:       &delivered,
		Lines: []models.OrderLine{
			{ProductID: jacketID, SellerID: &f.seller, ProductName: "Jacket", UnitPriceCents: 2000, BaseUnitPriceCents: 2000, Quantity: 2, CommissionCents: 400},
			{ProductID: socksID, SellerID: &f.seller, ProductName: "Socks", UnitPriceCents: 1000, BaseUnitPriceCents: 1000, Quantity: 3, CommissionCents: 300, Position: 1},
		},
	}
	require.NoError(t, ordersRepo.Create(context.Background(), f.order))
	_, err = escrowSvc.Credit(context.Background(), conn, []escrow.Credit{{
		SellerID: f.seller, OrderID: f.order.ID, GrossCents: 7000, CommissionCents: 700,
	}})
	require.NoError(t, err)
	return f
}

func (f *fixture) refundRequest(t *testing.T, line int, amount int64) *models.RefundRequest {
	t.Helper()
	l := f.order.Lines[line]
	req := &models.RefundRequest{
		OrderID:     f.order.ID,
		ProductID:   l.ProductID,
		OrderLineID: l.ID,
		CustomerID:  f.customer,
		SellerID:    &f.seller,
		Reason:      enums.ReturnReasonDamaged,
		Status:      enums.RefundRequestStatusPending,
		Quantity:    l.Quantity,
		AmountCents: amount,
	}
	require.NoError(t, f.db.Create(req).Error)
	return req
}

func (f *fixture) reloadOrder(t *testing.T) models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, f.db.First(&o, "id = ?", f.order.ID).Error)
	return o
}

func (f *fixture) earning(t *testing.T) models.SellerEarning {
	t.Helper()
	var e models.SellerEarning
	require.NoError(t, f.db.First(&e, "order_id = ? AND seller_id = ?", f.order.ID, f.seller).Error)
	return e
}

func TestApproveRefundSettlesEverything(t *testing.T) {
	f := newFixture(t)
	req := f.refundRequest(t, 0, 4200)
	reviewer := uuid.New()
	ctx := actor.With(context.Background(), actor.Actor{UserID: reviewer, Role: actor.RoleAdmin})

	done, err := f.refunds.Approve(ctx, ApproveInput{RequestID: req.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.RefundRequestStatusCompleted, done.Status)
	require.NotNil(t, done.GatewayRefundID)
	assert.Equal(t, "re_refund_"+req.ID.String(), *done.GatewayRefundID)
	assert.NotNil(t, done.ProcessedAt)
	require.NotNil(t, done.ReviewerID)
	assert.Equal(t, reviewer, *done.ReviewerID)

	require.Len(t, f.gateway.refunds, 1)
	assert.Equal(t, payments.RefundIdempotencyKey(req.ID.String()), f.gateway.refunds[0].IdempotencyKey)
	assert.Equal(t, "pi_paid", f.gateway.refunds[0].PaymentReference)

	order := f.reloadOrder(t)
	assert.Equal(t, enums.OrderStatusPartiallyRefunded, order.Status)
	assert.Equal(t, int64(4200), order.RefundedCents)
	assert.Zero(t, order.RefundPendingCents)

	earning := f.earning(t)
	assert.Equal(t, int64(2100), earning.NetCents)
	assert.Equal(t, int64(4200), earning.RefundedCents)
	assert.Equal(t, enums.EarningStatusPending, earning.Status)

	stock, err := f.ledger.Get(context.Background(), f.jacket)
	require.NoError(t, err)
	assert.Equal(t, 10, stock.Quantity)

	assert.Equal(t, []enums.OutboxEventType{enums.EventReturnRequestDecided, enums.EventOrderStatusChanged}, f.sink.types())

	_, err = f.refunds.Approve(ctx, ApproveInput{RequestID: req.ID})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeAlreadyProcessed), "got %v", err)
	assert.Len(t, f.gateway.refunds, 1)
}

func TestApproveRefundReachingTotalMarksOrderRefunded(t *testing.T) {
	f := newFixture(t)
	jacket := f.refundRequest(t, 0, 4200)
	socks := f.refundRequest(t, 1, 3300)

	_, err := f.refunds.Approve(context.Background(), ApproveInput{RequestID: jacket.ID})
	require.NoError(t, err)
	_, err = f.refunds.Approve(context.Background(), ApproveInput{RequestID: socks.ID})
	require.NoError(t, err)

	order := f.reloadOrder(t)
	assert.Equal(t, enums.OrderStatusRefunded, order.Status)
	assert.Equal(t, int64(7500), order.RefundedCents)

	earning := f.earning(t)
	assert.Zero(t, earning.NetCents)
	assert.Equal(t, enums.EarningStatusRefunded, earning.Status)
}

func TestApproveRefundRetriesTransientGatewayErrors(t *testing.T) {
	f := newFixture(t)
	req := f.refundRequest(t, 0, 4200)
	f.gateway.failures = []error{transient(), transient()}

	done, err := f.refunds.Approve(context.Background(), ApproveInput{RequestID: req.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.RefundRequestStatusCompleted, done.Status)
	require.Len(t, f.gateway.refunds, 3)
	for _, call := range f.gateway.refunds {
		assert.Equal(t, "refund_"+req.ID.String(), call.IdempotencyKey)
	}
}

func TestApproveRefundFailsAfterExhaustingRetries(t *testing.T) {
	f := newFixture(t)
	req := f.refundRequest(t, 0, 4200)
	f.gateway.failures = []error{transient(), transient(), transient(), transient()}

	_, err := f.refunds.Approve(context.Background(), ApproveInput{RequestID: req.ID})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeGateway), "got %v", err)
	assert.Len(t, f.gateway.refunds, 3)

	var stored models.RefundRequest
	require.NoError(t, f.db.First(&stored, "id = ?", req.ID).Error)
	assert.Equal(t, enums.RefundRequestStatusFailed, stored.Status)
	require.NotNil(t, stored.FailureReason)

	order := f.reloadOrder(t)
	assert.Equal(t, enums.OrderStatusDelivered, order.Status)
	assert.Zero(t, order.RefundedCents)
	assert.Zero(t, order.RefundPendingCents)
	assert.Equal(t, int64(6300), f.earning(t).NetCents)
	assert.Equal(t, []enums.OutboxEventType{enums.EventReturnRequestDecided, enums.EventRefundSettlementFailed}, f.sink.types())
}

func TestApproveRefundDoesNotRetryPermanentErrors(t *testing.T) {
	f := newFixture(t)
	req := f.refundRequest(t, 0, 4200)
	f.gateway.failures = []error{pkgerrors.New(pkgerrors.CodeGateway, "charge already refunded").WithRetryable(false)}

	_, err := f.refunds.Approve(context.Background(), ApproveInput{RequestID: req.ID})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeGateway))
	assert.Len(t, f.gateway.refunds, 1)
}

func TestApproveRefundEnforcesOrderTotal(t *testing.T) {
	f := newFixture(t)
	req := f.refundRequest(t, 0, 4200)
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", f.order.ID).Update("refunded_cents", 4000).Error)

	_, err := f.refunds.Approve(context.Background(), ApproveInput{RequestID: req.ID})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeRefundLimitExceeded), "got %v", err)
	assert.Empty(t, f.gateway.refunds)

	var stored models.RefundRequest
	require.NoError(t, f.db.First(&stored, "id = ?", req.ID).Error)
	assert.Equal(t, enums.RefundRequestStatusPending, stored.Status)
}

func TestApproveRefundRequiresRefundableOrder(t *testing.T) {
	f := newFixture(t)
	req := f.refundRequest(t, 0, 4200)
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", f.order.ID).Update("status", enums.OrderStatusShipped).Error)

	_, err := f.refunds.Approve(context.Background(), ApproveInput{RequestID: req.ID})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition), "got %v", err)
	assert.Empty(t, f.gateway.refunds)
}

func TestRejectRefundRequiresReason(t *testing.T) {
	f := newFixture(t)
	req := f.refundRequest(t, 0, 4200)

	_, err := f.refunds.Reject(context.Background(), RejectInput{RequestID: req.ID, Reason: "   "})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	rejected, err := f.refunds.Reject(context.Background(), RejectInput{RequestID: req.ID, Reason: "item shows wear"})
	require.NoError(t, err)
	assert.Equal(t, enums.RefundRequestStatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "item shows wear", *rejected.RejectionReason)

	_, err = f.refunds.Approve(context.Background(), ApproveInput{RequestID: req.ID})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeAlreadyProcessed))
	_, err = f.refunds.Reject(context.Background(), RejectInput{RequestID: req.ID, Reason: "again"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeAlreadyProcessed))

	order := f.reloadOrder(t)
	assert.Zero(t, order.RefundedCents)
	assert.Empty(t, f.gateway.refunds)
}

func TestApproveUnknownRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.refunds.Approve(context.Background(), ApproveInput{RequestID: uuid.New()})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
	_, err = f.refunds.Approve(context.Background(), ApproveInput{})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestReconcileCompletesStuckRefunds(t *testing.T) {
	f := newFixture(t)
	stuck := f.refundRequest(t, 0, 4200)
	fresh := f.refundRequest(t, 1, 3300)
	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.db.Model(&models.RefundRequest{}).Where("id = ?", stuck.ID).
		UpdateColumns(map[string]any{"status": enums.RefundRequestStatusProcessing, "updated_at": old}).Error)
	require.NoError(t, f.db.Model(&models.RefundRequest{}).Where("id = ?", fresh.ID).
		UpdateColumns(map[string]any{"status": enums.RefundRequestStatusProcessing, "updated_at": time.Now().UTC()}).Error)
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", f.order.ID).
		UpdateColumn("refund_pending_cents", 7500).Error)

	result, err := f.refunds.Reconcile(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Scanned: 1, Completed: 1}, result)
	require.Len(t, f.gateway.refunds, 1)
	assert.Equal(t, "refund_"+stuck.ID.String(), f.gateway.refunds[0].IdempotencyKey)

	order := f.reloadOrder(t)
	assert.Equal(t, int64(4200), order.RefundedCents)
	assert.Equal(t, int64(3300), order.RefundPendingCents)

	var still models.RefundRequest
	require.NoError(t, f.db.First(&still, "id = ?", fresh.ID).Error)
	assert.Equal(t, enums.RefundRequestStatusProcessing, still.Status)
}

func TestNewRefundProcessorRequiresDependencies(t *testing.T) {
	_, err := NewRefundProcessor(RefundProcessorParams{})
	assert.Error(t, err)
}
