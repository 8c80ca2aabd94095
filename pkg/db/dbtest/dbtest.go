// Package dbtest opens throwaway sqlite databases carrying the full schema.
package dbtest

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/marketcore/pkg/db"
	"github.com/angelmondragon/marketcore/pkg/db/models"
)

// partialIndexes mirrors the migration-owned indexes AutoMigrate cannot express.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_refund_requests_open ON refund_requests (order_id, product_id) WHERE status NOT IN ('rejected', 'failed')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_replacement_requests_open ON replacement_requests (order_id, product_id) WHERE status <> 'rejected'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_seller_earnings_order_seller ON seller_earnings (order_id, seller_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_carts_active_customer ON carts (customer_id) WHERE status = 'active'`,
}

// AllModels lists every table the services touch.
func AllModels() []any {
	return []any{
		&models.Category{},
		&models.Product{},
		&models.ProductVariant{},
		&models.ProductInventory{},
		&models.VariantInventory{},
		&models.InventoryMovement{},
		&models.CommissionRate{},
		&models.Promotion{},
		&models.Coupon{},
		&models.CouponUsage{},
		&models.Order{},
		&models.OrderLine{},
		&models.SubOrder{},
		&models.SellerEarning{},
		&models.RefundRequest{},
		&models.ReplacementRequest{},
		&models.Cart{},
		&models.CartItem{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	}
}

// Open creates a file-backed sqlite database in t.TempDir with the schema applied.
// Transactions take the write lock up front so concurrent writers queue on
// the busy timeout instead of failing.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "marketcore.db") + "?_busy_timeout=10000&_txlock=immediate"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, stmt := range partialIndexes {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create index: %v", err)
		}
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

// Client wraps Open in the transaction runner services expect.
func Client(t testing.TB) *db.Client {
	t.Helper()
	return db.FromGorm(Open(t))
}
