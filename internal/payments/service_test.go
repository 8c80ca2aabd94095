package payments

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/internal/escrow"
	"github.com/angelmondragon/marketcore/internal/inventory"
	"github.com/angelmondragon/marketcore/internal/notify"
	"github.com/angelmondragon/marketcore/internal/orders"
	"github.com/angelmondragon/marketcore/pkg/db/dbtest"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
	"github.com/angelmondragon/marketcore/pkg/logger"
)

type fixture struct {
	db      *gorm.DB
	svc     Service
	gateway *fakeGateway
	ledger  inventory.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Client(t)
	logg := logger.New(logger.Options{ServiceName: "payments-test", Output: &bytes.Buffer{}})
	ledger := inventory.NewLedger(client.DB(), nil)
	repo := orders.NewRepository(client.DB())
	escrowSvc, err := escrow.NewService(escrow.NewRepository(client.DB()), 0)
	require.NoError(t, err)
	orderSvc, err := orders.NewService(repo, client, ledger, escrowSvc, notify.Discard{}, logg)
	require.NoError(t, err)

	gateway := newFakeGateway()
	svc, err := NewService(ServiceParams{
		Repo:    repo,
		Orders:  orderSvc,
		Gateway: gateway,
		Policy:  fastPolicy(),
		Logger:  logg,
	})
	require.NoError(t, err)
	return &fixture{db: client.DB(), svc: svc, gateway: gateway, ledger: ledger}
}

// seedOrder stores a pending order for 2 x 27.50 with both units reserved.
func (f *fixture) seedOrder(t *testing.T) (*models.Order, inventory.Key) {
	t.Helper()
	productID := uuid.New()
	require.NoError(t, f.db.Create(&models.ProductInventory{ProductID: productID, Quantity: 5, ReservedQuantity: 2}).Error)
	customer := uuid.New()
	order := &models.Order{
		UserID:        &customer,
		Status:        enums.OrderStatusPendingPayment,
		Currency:      "usd",
		SubtotalCents: 5500,
		TotalCents:    5500,
		Lines: []models.OrderLine{{
			ProductID:          productID,
			ProductName:        "Lamp",
			UnitPriceCents:     2750,
			BaseUnitPriceCents: 2750,
			Quantity:           2,
		}},
	}
	require.NoError(t, orders.NewRepository(f.db).Create(context.Background(), order))
	return order, inventory.ProductKey(productID)
}

func TestStartPaymentStoresReference(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedOrder(t)

	session, err := f.svc.StartPayment(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5500), session.AmountCents)
	assert.NotEmpty(t, session.ClientSecret)
	require.Len(t, f.gateway.creates, 1)
	assert.Equal(t, OrderIdempotencyKey(order.ID.String()), f.gateway.creates[0].IdempotencyKey)
	assert.Equal(t, order.ID.String(), f.gateway.creates[0].Metadata["order_id"])

	var stored models.Order
	require.NoError(t, f.db.First(&stored, "id = ?", order.ID).Error)
	require.NotNil(t, stored.PaymentReference)
	assert.Equal(t, session.IntentID, *stored.PaymentReference)

	again, err := f.svc.StartPayment(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, session.IntentID, again.IntentID)
	assert.Len(t, f.gateway.creates, 1)
}

func TestStartPaymentRetriesTransientGatewayErrors(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedOrder(t)
	f.gateway.failures = []error{transient()}

	_, err := f.svc.StartPayment(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, f.gateway.creates, 2)
	assert.Equal(t, f.gateway.creates[0].IdempotencyKey, f.gateway.creates[1].IdempotencyKey)
}

func TestConfirmPaymentMarksOrderPaid(t *testing.T) {
	f := newFixture(t)
	order, key := f.seedOrder(t)
	session, err := f.svc.StartPayment(context.Background(), order.ID)
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(context.Background(), order.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict), "got %v", err)

	f.gateway.setStatus(session.IntentID, IntentStatusSucceeded, 5500)
	paid, err := f.svc.ConfirmPayment(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, paid.Status)
	assert.NotNil(t, paid.PaidAt)

	stock, err := f.ledger.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 3, stock.Quantity)
	assert.Equal(t, 0, stock.Reserved)

	again, err := f.svc.ConfirmPayment(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, again.Status)
}

func TestConfirmPaymentRejectsAmountMismatch(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedOrder(t)
	session, err := f.svc.StartPayment(context.Background(), order.ID)
	require.NoError(t, err)
	f.gateway.setStatus(session.IntentID, IntentStatusSucceeded, 5000)

	_, err = f.svc.ConfirmPayment(context.Background(), order.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeConflict), "got %v", err)

	var stored models.Order
	require.NoError(t, f.db.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusPendingPayment, stored.Status)
}

func TestConfirmPaymentRequiresStartedPayment(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedOrder(t)

	_, err := f.svc.ConfirmPayment(context.Background(), order.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
	assert.Zero(t, f.gateway.retrieves)
}

func TestCancelPaymentVoidsIntentAndReleasesStock(t *testing.T) {
	f := newFixture(t)
	order, key := f.seedOrder(t)
	session, err := f.svc.StartPayment(context.Background(), order.ID)
	require.NoError(t, err)

	cancelled, err := f.svc.CancelPayment(context.Background(), order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, []string{session.IntentID}, f.gateway.cancels)

	stock, err := f.ledger.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 5, stock.Quantity)
	assert.Equal(t, 0, stock.Reserved)

	_, err = f.svc.StartPayment(context.Background(), order.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}

func TestCancelPaymentKeepsOrderWhenGatewayFails(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedOrder(t)
	_, err := f.svc.StartPayment(context.Background(), order.ID)
	require.NoError(t, err)
	f.gateway.failures = []error{permanent()}

	_, err = f.svc.CancelPayment(context.Background(), order.ID, "customer abandoned")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeGateway))

	var stored models.Order
	require.NoError(t, f.db.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusPendingPayment, stored.Status)
}

func TestCancelPaymentWithoutIntent(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedOrder(t)

	cancelled, err := f.svc.CancelPayment(context.Background(), order.ID, "expired")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	assert.Empty(t, f.gateway.cancels)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}
