package returns

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/internal/catalog"
	"github.com/angelmondragon/marketcore/internal/orders"
	"github.com/angelmondragon/marketcore/pkg/db/dbtest"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
)

type orderSetup struct {
	status       enums.OrderStatus
	deliveredAgo time.Duration
	refundable   bool
	replaceable  bool
	finalSale    bool
	replacement  bool
}

func defaultSetup() orderSetup {
	return orderSetup{
		status:       enums.OrderStatusDelivered,
		deliveredAgo: 5 * 24 * time.Hour,
		refundable:   true,
		replaceable:  true,
	}
}

type seeded struct {
	order    *models.Order
	customer uuid.UUID
	product  uuid.UUID
	other    uuid.UUID
	seller   uuid.UUID
}

// seedOrder stores an order with two lines: the returned product (2 x 20.00)
// and another product (3 x 10.00), plus 5.00 shipping.
func seedOrder(t *testing.T, conn *gorm.DB, setup orderSetup) seeded {
	t.Helper()
	category := models.Category{Name: "Apparel", IsRefundable: setup.refundable, IsReplaceable: setup.replaceable}
	require.NoError(t, conn.Create(&category).Error)
	seller := uuid.New()
	product := models.Product{SellerID: &seller, CategoryID: &category.ID, Name: "Jacket", PriceCents: 2000, IsFinalSale: setup.finalSale, Active: true}
	other := models.Product{SellerID: &seller, Name: "Socks", PriceCents: 1000, Active: true}
	require.NoError(t, conn.Create(&product).Error)
	require.NoError(t, conn.Create(&other).Error)

	customer := uuid.New()
	delivered := time.Now().UTC().Add(-setup.deliveredAgo)
	order := &models.Order{
		UserID:        &customer,
		Status:        setup.status,
		Currency:      "usd",
		SubtotalCents: 7000,
		ShippingCents: 500,
		TotalCents:    7500,
		SellerID:      &seller,
		Lines: []models.OrderLine{
			{ProductID: product.ID, SellerID: &seller, CategoryID: &category.ID, ProductName: "Jacket", UnitPriceCents: 2000, BaseUnitPriceCents: 2000, Quantity: 2},
			{ProductID: other.ID, SellerID: &seller, ProductName: "Socks", UnitPriceCents: 1000, BaseUnitPriceCents: 1000, Quantity: 3, Position: 1},
		},
	}
	if setup.replacement {
		original := uuid.New()
		order.OriginalOrderID = &original
		order.SubtotalCents, order.ShippingCents, order.TotalCents = 0, 0, 0
		for i := range order.Lines {
			order.Lines[i].UnitPriceCents, order.Lines[i].BaseUnitPriceCents = 0, 0
		}
	}
	if setup.status == enums.OrderStatusDelivered || setup.status == enums.OrderStatusPartiallyRefunded {
		order.DeliveredAt = &delivered
	}
	require.NoError(t, orders.NewRepository(conn).Create(context.Background(), order))
	return seeded{order: order, customer: customer, product: product.ID, other: other.ID, seller: seller}
}

func newTestEngine(t *testing.T, conn *gorm.DB) Engine {
	t.Helper()
	e, err := NewEngine(orders.NewRepository(conn), catalog.NewRepository(conn), NewRepository(conn), 0)
	require.NoError(t, err)
	return e
}

func refundInput(s seeded) EligibilityInput {
	return EligibilityInput{Kind: enums.RequestKindRefund, OrderID: s.order.ID, ProductID: s.product, CustomerID: s.customer}
}

func TestEvaluateEligibleRefundComputesAmount(t *testing.T) {
	conn := dbtest.Open(t)
	s := seedOrder(t, conn, defaultSetup())

	v, err := newTestEngine(t, conn).Evaluate(context.Background(), refundInput(s))
	require.NoError(t, err)
	require.True(t, v.Eligible, "code %s", v.Code)
	assert.Equal(t, int64(200), v.ShippingShareCents)
	assert.Equal(t, int64(4200), v.RefundAmountCents)
	assert.Equal(t, 25, v.DaysRemaining)
	assert.Equal(t, s.product, v.Line.ProductID)
	assert.NoError(t, v.Err())
}

func TestEvaluateReportsFirstFailingCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("order not found", func(t *testing.T) {
		conn := dbtest.Open(t)
		s := seedOrder(t, conn, defaultSetup())
		in := refundInput(s)
		in.OrderID = uuid.New()
		v, err := newTestEngine(t, conn).Evaluate(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, CodeOrderNotFound, v.Code)
	})

	t.Run("owner checked before status", func(t *testing.T) {
		conn := dbtest.Open(t)
		setup := defaultSetup()
		setup.status = enums.OrderStatusShipped
		s := seedOrder(t, conn, setup)
		in := refundInput(s)
		in.CustomerID = uuid.New()
		v, err := newTestEngine(t, conn).Evaluate(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, CodeNotOrderOwner, v.Code)
	})

	t.Run("not delivered", func(t *testing.T) {
		conn := dbtest.Open(t)
		setup := defaultSetup()
		setup.status = enums.OrderStatusShipped
		s := seedOrder(t, conn, setup)
		v, err := newTestEngine(t, conn).Evaluate(ctx, refundInput(s))
		require.NoError(t, err)
		assert.Equal(t, CodeOrderNotDelivered, v.Code)
	})

	t.Run("outside window", func(t *testing.T) {
		conn := dbtest.Open(t)
		setup := defaultSetup()
		setup.deliveredAgo = 31 * 24 * time.Hour
		setup.refundable = false
		s := seedOrder(t, conn, setup)
		v, err := newTestEngine(t, conn).Evaluate(ctx, refundInput(s))
		require.NoError(t, err)
		assert.Equal(t, CodeOutsideWindow, v.Code)
		assert.Zero(t, v.DaysRemaining)
	})

	t.Run("product not in order", func(t *testing.T) {
		conn := dbtest.Open(t)
		s := seedOrder(t, conn, defaultSetup())
		in := refundInput(s)
		in.ProductID = uuid.New()
		v, err := newTestEngine(t, conn).Evaluate(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, CodeProductNotInOrder, v.Code)
	})

	t.Run("category not refundable", func(t *testing.T) {
		conn := dbtest.Open(t)
		setup := defaultSetup()
		setup.refundable = false
		setup.finalSale = true
		s := seedOrder(t, conn, setup)
		v, err := newTestEngine(t, conn).Evaluate(ctx, refundInput(s))
		require.NoError(t, err)
		assert.False(t, v.Eligible)
		assert.Equal(t, CodeCategoryNotRefundable, v.Code)
		assert.True(t, pkgerrors.Is(v.Err(), pkgerrors.CodeNotEligible))
	})

	t.Run("category not replaceable", func(t *testing.T) {
		conn := dbtest.Open(t)
		setup := defaultSetup()
		setup.replaceable = false
		s := seedOrder(t, conn, setup)
		in := refundInput(s)
		in.Kind = enums.RequestKindReplacement
		v, err := newTestEngine(t, conn).Evaluate(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, CodeCategoryNotReplaceable, v.Code)
	})

	t.Run("final sale", func(t *testing.T) {
		conn := dbtest.Open(t)
		setup := defaultSetup()
		setup.finalSale = true
		s := seedOrder(t, conn, setup)
		v, err := newTestEngine(t, conn).Evaluate(ctx, refundInput(s))
		require.NoError(t, err)
		assert.Equal(t, CodeFinalSale, v.Code)
	})

	t.Run("duplicate", func(t *testing.T) {
		conn := dbtest.Open(t)
		s := seedOrder(t, conn, defaultSetup())
		existing := models.RefundRequest{
			OrderID: s.order.ID, ProductID: s.product, OrderLineID: s.order.Lines[0].ID, CustomerID: s.customer,
			Reason: enums.ReturnReasonDamaged, Status: enums.RefundRequestStatusPending, Quantity: 2, AmountCents: 4200,
		}
		require.NoError(t, conn.Create(&existing).Error)
		v, err := newTestEngine(t, conn).Evaluate(ctx, refundInput(s))
		require.NoError(t, err)
		assert.Equal(t, CodeDuplicateRequest, v.Code)
		require.NotNil(t, v.ExistingRequestID)
		assert.Equal(t, existing.ID, *v.ExistingRequestID)

		typed := pkgerrors.As(v.Err())
		require.NotNil(t, typed)
		assert.Equal(t, pkgerrors.CodeDuplicateRequest, typed.Code())
		assert.Equal(t, existing.ID.String(), typed.Details().(map[string]any)["existing_request_id"])
	})
}

func TestEvaluateReplacementOrderCannotBeRefunded(t *testing.T) {
	conn := dbtest.Open(t)
	setup := defaultSetup()
	setup.replacement = true
	s := seedOrder(t, conn, setup)
	engine := newTestEngine(t, conn)

	v, err := engine.Evaluate(context.Background(), refundInput(s))
	require.NoError(t, err)
	assert.False(t, v.Eligible)
	assert.Equal(t, CodeNothingToRefund, v.Code)
	assert.Zero(t, v.RefundAmountCents)
	assert.True(t, pkgerrors.Is(v.Err(), pkgerrors.CodeNotEligible))

	replace := refundInput(s)
	replace.Kind = enums.RequestKindReplacement
	v, err = engine.Evaluate(context.Background(), replace)
	require.NoError(t, err)
	assert.True(t, v.Eligible, "code %s", v.Code)
}

func TestEvaluateRefundIgnoresClosedRequestsAndReplacements(t *testing.T) {
	conn := dbtest.Open(t)
	s := seedOrder(t, conn, defaultSetup())
	rejected := models.RefundRequest{
		OrderID: s.order.ID, ProductID: s.product, OrderLineID: s.order.Lines[0].ID, CustomerID: s.customer,
		Reason: enums.ReturnReasonOther, Status: enums.RefundRequestStatusRejected, Quantity: 2, AmountCents: 4200,
	}
	replacement := models.ReplacementRequest{
		OrderID: s.order.ID, ProductID: s.product, OrderLineID: s.order.Lines[0].ID, CustomerID: s.customer,
		Reason: enums.ReturnReasonDefective, Status: enums.ReplacementRequestStatusPending, Quantity: 2,
	}
	require.NoError(t, conn.Create(&rejected).Error)
	require.NoError(t, conn.Create(&replacement).Error)

	v, err := newTestEngine(t, conn).Evaluate(context.Background(), refundInput(s))
	require.NoError(t, err)
	assert.True(t, v.Eligible, "code %s", v.Code)
}

func TestEvaluateAcceptsPartiallyRefundedOrders(t *testing.T) {
	conn := dbtest.Open(t)
	setup := defaultSetup()
	setup.status = enums.OrderStatusPartiallyRefunded
	s := seedOrder(t, conn, setup)
	in := refundInput(s)
	in.ProductID = s.other

	v, err := newTestEngine(t, conn).Evaluate(context.Background(), in)
	require.NoError(t, err)
	require.True(t, v.Eligible, "code %s", v.Code)
	assert.Equal(t, int64(300), v.ShippingShareCents)
	assert.Equal(t, int64(3300), v.RefundAmountCents)
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	conn := dbtest.Open(t)
	e := newTestEngine(t, conn)

	_, err := e.Evaluate(context.Background(), EligibilityInput{Kind: "exchange", OrderID: uuid.New(), ProductID: uuid.New(), CustomerID: uuid.New()})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	_, err = e.Evaluate(context.Background(), EligibilityInput{Kind: enums.RequestKindRefund})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestShippingShareRounding(t *testing.T) {
	tests := []struct {
		shipping     int64
		lineQty, qty int
		want         int64
	}{
		{shipping: 500, lineQty: 2, qty: 5, want: 200},
		{shipping: 500, lineQty: 1, qty: 3, want: 167},
		{shipping: 5, lineQty: 1, qty: 2, want: 3},
		{shipping: 999, lineQty: 4, qty: 4, want: 999},
		{shipping: 0, lineQty: 1, qty: 1, want: 0},
		{shipping: 500, lineQty: 1, qty: 0, want: 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShippingShare(tt.shipping, tt.lineQty, tt.qty), "%+v", tt)
	}
}
