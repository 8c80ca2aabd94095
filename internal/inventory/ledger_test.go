package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/db/dbtest"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
)

func seedProduct(t *testing.T, conn *gorm.DB, quantity, reserved int) Key {
	t.Helper()
	row := models.ProductInventory{ProductID: uuid.New(), Quantity: quantity, ReservedQuantity: reserved}
	require.NoError(t, conn.Create(&row).Error)
	return ProductKey(row.ProductID)
}

func seedVariant(t *testing.T, conn *gorm.DB, quantity int) Key {
	t.Helper()
	row := models.VariantInventory{VariantID: uuid.New(), Quantity: quantity}
	require.NoError(t, conn.Create(&row).Error)
	return VariantKey(row.VariantID)
}

func mustStock(t *testing.T, l Ledger, key Key) *Stock {
	t.Helper()
	stock, err := l.Get(context.Background(), key)
	require.NoError(t, err)
	require.GreaterOrEqual(t, stock.Reserved, 0)
	require.LessOrEqual(t, stock.Reserved, stock.Quantity)
	return stock
}

func TestReserveThenReleaseRestoresAvailability(t *testing.T) {
	conn := dbtest.Open(t)
	l := NewLedger(conn, nil)
	ctx := context.Background()
	key := seedProduct(t, conn, 10, 2)

	before := mustStock(t, l, key).Available()
	require.NoError(t, l.Reserve(ctx, key, 3, nil))
	assert.Equal(t, before-3, mustStock(t, l, key).Available())
	require.NoError(t, l.Release(ctx, key, 3, nil))
	assert.Equal(t, before, mustStock(t, l, key).Available())
}

func TestReserveRejectsWhenShort(t *testing.T) {
	conn := dbtest.Open(t)
	l := NewLedger(conn, nil)
	key := seedProduct(t, conn, 5, 4)

	err := l.Reserve(context.Background(), key, 2, nil)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientInventory), "got %v", err)
	details := pkgerrors.As(err).Details().(map[string]any)
	assert.Equal(t, 1, details["available"])

	stock := mustStock(t, l, key)
	assert.Equal(t, 4, stock.Reserved)
}

func TestFulfillMoreThanReservedFailsWithoutChanges(t *testing.T) {
	conn := dbtest.Open(t)
	l := NewLedger(conn, nil)
	key := seedProduct(t, conn, 10, 2)

	err := l.Fulfill(context.Background(), key, 3, nil)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientReservation), "got %v", err)

	stock := mustStock(t, l, key)
	assert.Equal(t, 10, stock.Quantity)
	assert.Equal(t, 2, stock.Reserved)
}

func TestFulfillConvertsReservation(t *testing.T) {
	conn := dbtest.Open(t)
	l := NewLedger(conn, nil)
	key := seedVariant(t, conn, 8)
	orderID := uuid.New()

	require.NoError(t, l.Reserve(context.Background(), key, 3, &orderID))
	require.NoError(t, l.Fulfill(context.Background(), key, 3, &orderID))

	stock := mustStock(t, l, key)
	assert.Equal(t, 5, stock.Quantity)
	assert.Equal(t, 0, stock.Reserved)

	var movements []models.InventoryMovement
	require.NoError(t, conn.Where("stock_id = ?", key.ID).Find(&movements).Error)
	require.Len(t, movements, 2)
	kinds := []enums.InventoryMovementKind{movements[0].Kind, movements[1].Kind}
	assert.ElementsMatch(t, []enums.InventoryMovementKind{enums.InventoryMovementReserve, enums.InventoryMovementFulfill}, kinds)
	for _, m := range movements {
		assert.Equal(t, enums.InventoryScopeVariant, m.Scope)
		assert.Equal(t, 3, m.Quantity)
		require.NotNil(t, m.OrderID)
		assert.Equal(t, orderID, *m.OrderID)
	}
}

func TestReleaseFloorsAtZero(t *testing.T) {
	conn := dbtest.Open(t)
	l := NewLedger(conn, nil)
	key := seedProduct(t, conn, 4, 1)

	require.NoError(t, l.Release(context.Background(), key, 3, nil))
	require.NoError(t, l.Release(context.Background(), key, 3, nil))
	assert.Equal(t, 0, mustStock(t, l, key).Reserved)
}

func TestRestoreIgnoresReservation(t *testing.T) {
	conn := dbtest.Open(t)
	l := NewLedger(conn, nil)
	key := seedProduct(t, conn, 4, 4)

	require.NoError(t, l.Restore(context.Background(), key, 2, nil))
	stock := mustStock(t, l, key)
	assert.Equal(t, 6, stock.Quantity)
	assert.Equal(t, 4, stock.Reserved)
}

func TestAdjustGuardsInvariant(t *testing.T) {
	conn := dbtest.Open(t)
	l := NewLedger(conn, nil)
	ctx := context.Background()
	key := seedProduct(t, conn, 5, 3)

	err := l.Adjust(ctx, key, -6, "cycle count")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNegativeInventory), "got %v", err)

	err = l.Adjust(ctx, key, -3, "cycle count")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientInventory), "got %v", err)

	require.NoError(t, l.Adjust(ctx, key, -2, "damaged in warehouse"))
	assert.Equal(t, 3, mustStock(t, l, key).Quantity)

	assert.True(t, pkgerrors.Is(l.Adjust(ctx, key, 1, ""), pkgerrors.CodeValidation))
	assert.True(t, pkgerrors.Is(l.Adjust(ctx, key, 0, "noop"), pkgerrors.CodeValidation))
}

func TestOperationsValidateInput(t *testing.T) {
	conn := dbtest.Open(t)
	l := NewLedger(conn, nil)
	ctx := context.Background()

	missing := ProductKey(uuid.New())
	assert.True(t, pkgerrors.Is(l.Reserve(ctx, missing, 1, nil), pkgerrors.CodeNotFound))
	assert.True(t, pkgerrors.Is(l.Release(ctx, missing, 1, nil), pkgerrors.CodeNotFound))

	key := seedProduct(t, conn, 1, 0)
	assert.True(t, pkgerrors.Is(l.Reserve(ctx, key, 0, nil), pkgerrors.CodeValidation))
	assert.True(t, pkgerrors.Is(l.Fulfill(ctx, key, -1, nil), pkgerrors.CodeValidation))
}

func TestConcurrentReserveForLastUnit(t *testing.T) {
	conn := dbtest.Open(t)
	l := NewLedger(conn, nil)
	key := seedProduct(t, conn, 1, 0)

	const callers = 2
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- l.Reserve(context.Background(), key, 1, nil)
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	succeeded, rejected := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case pkgerrors.Is(err, pkgerrors.CodeInsufficientInventory):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	stock := mustStock(t, l, key)
	assert.Equal(t, 1, stock.Reserved)
}

func TestWithTxRollsBackWithCaller(t *testing.T) {
	conn := dbtest.Open(t)
	l := NewLedger(conn, nil)
	key := seedProduct(t, conn, 3, 0)

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := l.WithTx(tx).Reserve(context.Background(), key, 2, nil); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeInternal, "abort")
	})
	require.Error(t, err)
	assert.Equal(t, 0, mustStock(t, l, key).Reserved)
}

func TestKeyForPrefersVariant(t *testing.T) {
	productID, variantID := uuid.New(), uuid.New()
	assert.Equal(t, ProductKey(productID), KeyFor(productID, nil))
	assert.Equal(t, VariantKey(variantID), KeyFor(productID, &variantID))
}
