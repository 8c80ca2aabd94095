package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketcore/pkg/db/dbtest"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
)

func TestPriceLinesUsesVariantOverride(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	pricer, err := NewPricer(repo)
	require.NoError(t, err)

	sellerID, categoryID := uuid.New(), uuid.New()
	product := models.Product{SellerID: &sellerID, CategoryID: &categoryID, Name: "Tee", PriceCents: 2000, Active: true}
	require.NoError(t, conn.Create(&product).Error)
	override := int64(2500)
	priced := models.ProductVariant{ProductID: product.ID, SKU: "TEE-XL", PriceCents: &override, Active: true}
	plain := models.ProductVariant{ProductID: product.ID, SKU: "TEE-S", Active: true}
	require.NoError(t, conn.Create(&priced).Error)
	require.NoError(t, conn.Create(&plain).Error)

	lines, err := pricer.PriceLines(context.Background(), []LineRef{
		{ProductID: product.ID, Quantity: 1},
		{ProductID: product.ID, VariantID: &priced.ID, Quantity: 2},
		{ProductID: product.ID, VariantID: &plain.ID, Quantity: 3},
	})
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, int64(2000), lines[0].UnitPriceCents)
	assert.Nil(t, lines[0].VariantID)
	assert.Equal(t, int64(2500), lines[1].UnitPriceCents)
	assert.Equal(t, priced.ID, *lines[1].VariantID)
	assert.Equal(t, int64(2000), lines[2].UnitPriceCents)
	assert.Equal(t, 3, lines[2].Quantity)
	assert.Equal(t, sellerID, *lines[2].SellerID)
	assert.Equal(t, categoryID, *lines[2].CategoryID)
}

func TestPriceLinesRejectsUnavailable(t *testing.T) {
	conn := dbtest.Open(t)
	pricer, err := NewPricer(NewRepository(conn))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = pricer.PriceLines(ctx, []LineRef{{ProductID: uuid.New(), Quantity: 1}})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	retired := models.Product{Name: "Retired", PriceCents: 100}
	require.NoError(t, conn.Create(&retired).Error)
	_, err = pricer.PriceLines(ctx, []LineRef{{ProductID: retired.ID, Quantity: 1}})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	a := models.Product{Name: "A", PriceCents: 100, Active: true}
	b := models.Product{Name: "B", PriceCents: 100, Active: true}
	require.NoError(t, conn.Create(&a).Error)
	require.NoError(t, conn.Create(&b).Error)
	variantOfB := models.ProductVariant{ProductID: b.ID, Active: true}
	require.NoError(t, conn.Create(&variantOfB).Error)
	_, err = pricer.PriceLines(ctx, []LineRef{{ProductID: a.ID, VariantID: &variantOfB.ID, Quantity: 1}})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestFindCategory(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)

	category := models.Category{Name: "Underwear", IsRefundable: false, IsReplaceable: true}
	require.NoError(t, conn.Create(&category).Error)

	got, err := repo.FindCategory(context.Background(), category.ID)
	require.NoError(t, err)
	assert.False(t, got.IsRefundable)
	assert.True(t, got.IsReplaceable)

	_, err = repo.FindCategory(context.Background(), uuid.New())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}
