package discounts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketcore/pkg/db/dbtest"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
)

func TestRepositoryActivePromotionsFiltersWindowAndTarget(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	productID, variantID, otherID := uuid.New(), uuid.New(), uuid.New()
	rows := []models.Promotion{
		{ProductID: &productID, PromotionalPriceCents: 100, StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour), Active: true},
		{VariantID: &variantID, PromotionalPriceCents: 90, StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour), Active: true},
		{ProductID: &productID, PromotionalPriceCents: 50, StartsAt: now.Add(time.Hour), EndsAt: now.Add(2 * time.Hour), Active: true},
		{ProductID: &otherID, PromotionalPriceCents: 10, StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour), Active: true},
	}
	for i := range rows {
		require.NoError(t, conn.Create(&rows[i]).Error)
	}
	require.NoError(t, conn.Model(&models.Promotion{}).Where("id = ?", rows[1].ID).Update("active", false).Error)

	promos, err := repo.ActivePromotions(ctx, []uuid.UUID{productID}, []uuid.UUID{variantID}, now)
	require.NoError(t, err)
	require.Len(t, promos, 1)
	assert.Equal(t, rows[0].ID, promos[0].ID)
}

func TestRepositoryCouponUsageCounts(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	coupon := models.Coupon{Code: "WELCOME", Type: enums.CouponTypeFixedAmount, Value: 500, Active: true}
	require.NoError(t, conn.Create(&coupon).Error)

	found, err := repo.FindCouponByCode(ctx, "WELCOME")
	require.NoError(t, err)
	assert.Equal(t, coupon.ID, found.ID)

	_, err = repo.FindCouponByCode(ctx, "MISSING")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	customer := uuid.New()
	require.NoError(t, repo.CreateUsage(ctx, &models.CouponUsage{CouponID: coupon.ID, CustomerID: &customer, OrderID: uuid.New(), DiscountCents: 500}))
	require.NoError(t, repo.CreateUsage(ctx, &models.CouponUsage{CouponID: coupon.ID, OrderID: uuid.New(), DiscountCents: 500}))

	total, err := repo.CountUsage(ctx, coupon.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	mine, err := repo.CountCustomerUsage(ctx, coupon.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), mine)

	locked, err := repo.LockCoupon(ctx, coupon.ID)
	require.NoError(t, err)
	assert.Equal(t, "WELCOME", locked.Code)
}
