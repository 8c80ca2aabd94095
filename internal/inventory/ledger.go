package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
	"github.com/angelmondragon/marketcore/pkg/metrics"
)

// Key addresses one stock row.
type Key struct {
	Scope enums.InventoryScope
	ID    uuid.UUID
}

// ProductKey addresses the stock of a product sold without variants.
func ProductKey(id uuid.UUID) Key {
	return Key{Scope: enums.InventoryScopeProduct, ID: id}
}

// VariantKey addresses the stock of one variant.
func VariantKey(id uuid.UUID) Key {
	return Key{Scope: enums.InventoryScopeVariant, ID: id}
}

// KeyFor picks the variant row when a variant is set.
func KeyFor(productID uuid.UUID, variantID *uuid.UUID) Key {
	if variantID != nil && *variantID != uuid.Nil {
		return VariantKey(*variantID)
	}
	return ProductKey(productID)
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Scope, k.ID)
}

// Stock is a snapshot of one inventory row.
type Stock struct {
	Key      Key
	Quantity int
	Reserved int
}

// Available is the quantity that can still be reserved.
func (s Stock) Available() int {
	return s.Quantity - s.Reserved
}

// Ledger mutates stock with single conditional updates so concurrent callers
// on the same key serialise on the row and never over-reserve.
type Ledger interface {
	WithTx(tx *gorm.DB) Ledger
	Get(ctx context.Context, key Key) (*Stock, error)
	Reserve(ctx context.Context, key Key, qty int, orderID *uuid.UUID) error
	Release(ctx context.Context, key Key, qty int, orderID *uuid.UUID) error
	Fulfill(ctx context.Context, key Key, qty int, orderID *uuid.UUID) error
	Restore(ctx context.Context, key Key, qty int, orderID *uuid.UUID) error
	Adjust(ctx context.Context, key Key, delta int, reason string) error
}

type ledger struct {
	db      *gorm.DB
	inTx    bool
	metrics *metrics.DomainMetrics
}

// NewLedger builds a ledger on db. metrics may be nil.
func NewLedger(db *gorm.DB, m *metrics.DomainMetrics) Ledger {
	return &ledger{db: db, metrics: m}
}

func (l *ledger) WithTx(tx *gorm.DB) Ledger {
	if tx == nil {
		return l
	}
	return &ledger{db: tx, inTx: true, metrics: l.metrics}
}

func (l *ledger) Get(ctx context.Context, key Key) (*Stock, error) {
	return l.load(l.db.WithContext(ctx), key)
}

func (l *ledger) Reserve(ctx context.Context, key Key, qty int, orderID *uuid.UUID) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	return l.mutate(ctx, key, enums.InventoryMovementReserve, qty, "", orderID, func(tx *gorm.DB) (int64, error) {
		res := table(tx, key).
			Where("quantity - reserved_quantity >= ?", qty).
			Updates(map[string]any{"reserved_quantity": gorm.Expr("reserved_quantity + ?", qty)})
		return res.RowsAffected, res.Error
	}, func(stock *Stock) error {
		return pkgerrors.New(pkgerrors.CodeInsufficientInventory, "insufficient inventory").
			WithDetails(stockDetails(stock, qty))
	})
}

// Release is tolerant of duplicate or partial releases: reserved is floored at zero.
func (l *ledger) Release(ctx context.Context, key Key, qty int, orderID *uuid.UUID) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	return l.mutate(ctx, key, enums.InventoryMovementRelease, qty, "", orderID, func(tx *gorm.DB) (int64, error) {
		res := table(tx, key).
			Updates(map[string]any{"reserved_quantity": gorm.Expr(
				"CASE WHEN reserved_quantity >= ? THEN reserved_quantity - ? ELSE 0 END", qty, qty,
			)})
		return res.RowsAffected, res.Error
	}, nil)
}

func (l *ledger) Fulfill(ctx context.Context, key Key, qty int, orderID *uuid.UUID) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	return l.mutate(ctx, key, enums.InventoryMovementFulfill, qty, "", orderID, func(tx *gorm.DB) (int64, error) {
		res := table(tx, key).
			Where("reserved_quantity >= ?", qty).
			Updates(map[string]any{
				"quantity":          gorm.Expr("quantity - ?", qty),
				"reserved_quantity": gorm.Expr("reserved_quantity - ?", qty),
			})
		return res.RowsAffected, res.Error
	}, func(stock *Stock) error {
		return pkgerrors.New(pkgerrors.CodeInsufficientReservation, "insufficient reservation").
			WithDetails(stockDetails(stock, qty))
	})
}

func (l *ledger) Restore(ctx context.Context, key Key, qty int, orderID *uuid.UUID) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	return l.mutate(ctx, key, enums.InventoryMovementRestore, qty, "", orderID, func(tx *gorm.DB) (int64, error) {
		res := table(tx, key).
			Updates(map[string]any{"quantity": gorm.Expr("quantity + ?", qty)})
		return res.RowsAffected, res.Error
	}, nil)
}

// Adjust corrects the on-hand quantity. It refuses to drop below zero or
// below what is currently reserved.
func (l *ledger) Adjust(ctx context.Context, key Key, delta int, reason string) error {
	if delta == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "delta must be non-zero")
	}
	if reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "adjustment reason required")
	}
	return l.mutate(ctx, key, enums.InventoryMovementAdjust, delta, reason, nil, func(tx *gorm.DB) (int64, error) {
		res := table(tx, key).
			Where("quantity + ? >= 0", delta).
			Where("quantity + ? >= reserved_quantity", delta).
			Updates(map[string]any{"quantity": gorm.Expr("quantity + ?", delta)})
		return res.RowsAffected, res.Error
	}, func(stock *Stock) error {
		if stock.Quantity+delta < 0 {
			return pkgerrors.New(pkgerrors.CodeNegativeInventory, "adjustment would make inventory negative").
				WithDetails(map[string]any{"quantity": stock.Quantity, "delta": delta})
		}
		return pkgerrors.New(pkgerrors.CodeInsufficientInventory, "adjustment would drop below reserved quantity").
			WithDetails(map[string]any{"quantity": stock.Quantity, "reserved": stock.Reserved, "delta": delta})
	})
}

type updateFn func(tx *gorm.DB) (int64, error)

// mutate runs update and the audit insert atomically. When update matches no
// row, the current row decides between NOT_FOUND and the rejection from reject.
func (l *ledger) mutate(ctx context.Context, key Key, kind enums.InventoryMovementKind, qty int, reason string, orderID *uuid.UUID, update updateFn, reject func(*Stock) error) error {
	run := func(tx *gorm.DB) error {
		affected, err := update(tx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update inventory")
		}
		if affected == 0 {
			stock, err := l.load(tx, key)
			if err != nil {
				return err
			}
			if reject == nil {
				return pkgerrors.New(pkgerrors.CodeInternal, "inventory update matched no row")
			}
			return reject(stock)
		}
		movement := models.InventoryMovement{
			Scope:    key.Scope,
			StockID:  key.ID,
			Kind:     kind,
			Quantity: qty,
			Reason:   reason,
			OrderID:  orderID,
		}
		if err := tx.Create(&movement).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record inventory movement")
		}
		return nil
	}

	var err error
	if l.inTx {
		err = run(l.db.WithContext(ctx))
	} else {
		err = l.db.WithContext(ctx).Transaction(run)
	}
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			l.metrics.IncInventoryFailure(string(kind), string(typed.Code()))
		}
		return err
	}
	return nil
}

func (l *ledger) load(db *gorm.DB, key Key) (*Stock, error) {
	var (
		quantity, reserved int
		err                error
	)
	switch key.Scope {
	case enums.InventoryScopeVariant:
		var row models.VariantInventory
		err = db.Where("variant_id = ?", key.ID).First(&row).Error
		quantity, reserved = row.Quantity, row.ReservedQuantity
	case enums.InventoryScopeProduct:
		var row models.ProductInventory
		err = db.Where("product_id = ?", key.ID).First(&row).Error
		quantity, reserved = row.Quantity, row.ReservedQuantity
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown inventory scope")
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "inventory record not found").
				WithDetails(map[string]any{"key": key.String()})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory")
	}
	return &Stock{Key: key, Quantity: quantity, Reserved: reserved}, nil
}

func table(tx *gorm.DB, key Key) *gorm.DB {
	if key.Scope == enums.InventoryScopeVariant {
		return tx.Model(&models.VariantInventory{}).Where("variant_id = ?", key.ID)
	}
	return tx.Model(&models.ProductInventory{}).Where("product_id = ?", key.ID)
}

func validateQty(qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
			WithDetails(map[string]any{"quantity": qty})
	}
	return nil
}

func stockDetails(stock *Stock, requested int) map[string]any {
	return map[string]any{
		"key":       stock.Key.String(),
		"requested": requested,
		"available": stock.Available(),
		"reserved":  stock.Reserved,
	}
}
