package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/internal/cart"
	"github.com/angelmondragon/marketcore/internal/catalog"
	"github.com/angelmondragon/marketcore/internal/commission"
	"github.com/angelmondragon/marketcore/internal/discounts"
	"github.com/angelmondragon/marketcore/internal/escrow"
	"github.com/angelmondragon/marketcore/internal/inventory"
	"github.com/angelmondragon/marketcore/internal/notify"
	"github.com/angelmondragon/marketcore/internal/orders"
	"github.com/angelmondragon/marketcore/internal/suborders"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
	"github.com/angelmondragon/marketcore/pkg/logger"
	"github.com/angelmondragon/marketcore/pkg/metrics"
	"github.com/angelmondragon/marketcore/pkg/types"
	"github.com/angelmondragon/marketcore/pkg/validation"
)

const defaultCompensationTimeout = 15 * time.Second

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service turns a basket into a persisted order.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error)
}

// PlaceOrderInput is the checkout command. Exactly one of CustomerID and
// GuestEmail identifies the buyer. Prices are always read from the catalog.
type PlaceOrderInput struct {
	CustomerID      *uuid.UUID            `json:"customer_id" validate:"required_without=GuestEmail,excluded_with=GuestEmail"`
	GuestEmail      *string               `json:"guest_email" validate:"omitempty,email"`
	Lines           []LineInput           `json:"lines" validate:"required,min=1,dive"`
	ShippingAddress types.ShippingAddress `json:"shipping_address" validate:"required"`
	CouponCode      string                `json:"coupon_code" validate:"max=64"`
}

// LineInput is one requested product or variant.
type LineInput struct {
	ProductID uuid.UUID  `json:"product_id" validate:"required"`
	VariantID *uuid.UUID `json:"variant_id"`
	Quantity  int        `json:"quantity" validate:"gt=0"`
}

// Settings carries the checkout knobs from config.
type Settings struct {
	ShippingCents       int64
	Currency            string
	CompensationTimeout time.Duration
}

// ServiceParams groups dependencies for the checkout service.
type ServiceParams struct {
	Tx            txRunner
	Pricer        catalog.Pricer
	Resolver      discounts.Resolver
	DiscountsRepo discounts.Repository
	Ledger        inventory.Ledger
	Calculator    commission.Calculator
	OrdersRepo    orders.Repository
	Splitter      suborders.Splitter
	Escrow        escrow.Service
	CartRepo      cart.Repository
	Events        notify.Sink
	Logger        *logger.Logger
	Metrics       *metrics.DomainMetrics
	Settings      Settings
}

type service struct {
	tx            txRunner
	pricer        catalog.Pricer
	resolver      discounts.Resolver
	discountsRepo discounts.Repository
	ledger        inventory.Ledger
	calculator    commission.Calculator
	ordersRepo    orders.Repository
	splitter      suborders.Splitter
	escrow        escrow.Service
	cartRepo      cart.Repository
	events        notify.Sink
	logg          *logger.Logger
	metrics       *metrics.DomainMetrics
	settings      Settings
	now           func() time.Time
}

// NewService builds the checkout service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Pricer == nil:
		return nil, fmt.Errorf("catalog pricer required")
	case params.Resolver == nil:
		return nil, fmt.Errorf("discount resolver required")
	case params.DiscountsRepo == nil:
		return nil, fmt.Errorf("discount repository required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("inventory ledger required")
	case params.Calculator == nil:
		return nil, fmt.Errorf("commission calculator required")
	case params.OrdersRepo == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Splitter == nil:
		return nil, fmt.Errorf("sub-order splitter required")
	case params.Escrow == nil:
		return nil, fmt.Errorf("escrow service required")
	case params.CartRepo == nil:
		return nil, fmt.Errorf("cart repository required")
	case params.Events == nil:
		return nil, fmt.Errorf("event sink required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	settings := params.Settings
	if settings.ShippingCents < 0 {
		return nil, fmt.Errorf("shipping cents must not be negative")
	}
	if settings.Currency == "" {
		settings.Currency = "usd"
	}
	if settings.CompensationTimeout <= 0 {
		settings.CompensationTimeout = defaultCompensationTimeout
	}
	return &service{
		tx:            params.Tx,
		pricer:        params.Pricer,
		resolver:      params.Resolver,
		discountsRepo: params.DiscountsRepo,
		ledger:        params.Ledger,
		calculator:    params.Calculator,
		ordersRepo:    params.OrdersRepo,
		splitter:      params.Splitter,
		escrow:        params.Escrow,
		cartRepo:      params.CartRepo,
		events:        params.Events,
		logg:          params.Logger,
		metrics:       params.Metrics,
		settings:      settings,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// PlaceOrder prices the basket, reserves stock for every line and persists
// the order with its sub-orders and escrow rows. Reservations taken by a
// failed attempt are released before the error is returned.
func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	input = normalize(input)
	if err := validation.Struct(input); err != nil {
		return nil, err
	}

	refs := make([]catalog.LineRef, len(input.Lines))
	for i, line := range input.Lines {
		refs[i] = catalog.LineRef{ProductID: line.ProductID, VariantID: line.VariantID, Quantity: line.Quantity}
	}
	priced, err := s.pricer.PriceLines(ctx, refs)
	if err != nil {
		return nil, err
	}
	resolution, err := s.resolver.Resolve(ctx, discounts.ResolveInput{
		CustomerID: input.CustomerID,
		CouponCode: input.CouponCode,
		Lines:      discountLines(priced),
		Now:        s.now(),
	})
	if err != nil {
		return nil, err
	}
	d, err := s.buildLines(ctx, priced, resolution)
	if err != nil {
		return nil, err
	}
	if len(d.sellers) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNoValidSellers, "no line belongs to a seller")
	}

	orderID := uuid.New()
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	held, err := s.reserve(ctx, orderID, d.lines)
	if err != nil {
		return nil, s.compensate(ctx, orderID, held, err)
	}

	order := s.assemble(orderID, input, d)
	var placed *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		placed, txErr = s.persist(ctx, tx, order, input)
		return txErr
	})
	if err != nil {
		return nil, s.compensate(ctx, orderID, held, err)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"total_cents": placed.TotalCents,
		"sellers":     len(d.sellers),
		"lines":       len(placed.Lines),
	}), "order placed")
	s.events.Dispatch(ctx, notify.OrderCreated(placed, placed.SubOrders))
	return placed, nil
}

// reserve takes one reservation per line, keyed by variant when set. It
// stops at the first failure and returns what it already holds.
func (s *service) reserve(ctx context.Context, orderID uuid.UUID, lines []models.OrderLine) ([]hold, error) {
	held := make([]hold, 0, len(lines))
	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return held, err
		}
		key := inventory.KeyFor(line.ProductID, line.VariantID)
		if err := s.ledger.Reserve(ctx, key, line.Quantity, &orderID); err != nil {
			return held, fmt.Errorf("reserve line %d: %w", i, err)
		}
		held = append(held, hold{key: key, qty: line.Quantity})
	}
	return held, nil
}

// compensate releases every hold on a context detached from the caller so a
// cancelled request still gives its stock back.
func (s *service) compensate(ctx context.Context, orderID uuid.UUID, held []hold, cause error) error {
	if len(held) == 0 {
		return cause
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.CompensationTimeout)
	defer cancel()

	var releaseErr error
	for _, h := range held {
		if err := s.ledger.Release(releaseCtx, h.key, h.qty, &orderID); err != nil {
			releaseErr = multierr.Append(releaseErr, fmt.Errorf("release %s: %w", h.key, err))
		}
	}
	logCtx := s.logg.WithFields(releaseCtx, map[string]any{"holds": len(held), "cause": cause.Error()})
	if releaseErr != nil {
		s.metrics.IncCompensation("failed")
		s.logg.Error(logCtx, "checkout compensation incomplete", releaseErr)
		return multierr.Append(cause, releaseErr)
	}
	s.metrics.IncCompensation("released")
	s.logg.Warn(logCtx, "checkout aborted, reservations released")
	return cause
}

func (s *service) assemble(orderID uuid.UUID, input PlaceOrderInput, d *draft) *models.Order {
	res := d.resolution
	shipping := s.settings.ShippingCents
	if res.FreeShipping {
		shipping = 0
	}
	total := res.SubtotalCents - res.TotalDiscountCents + shipping
	if total < 0 {
		total = 0
	}
	commissionCents := d.commissionCents()
	address := input.ShippingAddress

	order := &models.Order{
		ID:                       orderID,
		UserID:                   input.CustomerID,
		GuestEmail:               input.GuestEmail,
		Status:                   enums.OrderStatusPendingPayment,
		Currency:                 s.settings.Currency,
		SubtotalCents:            res.SubtotalCents,
		PromotionalDiscountCents: res.PromotionalDiscountCents,
		CouponDiscountCents:      res.CouponDiscountCents,
		ShippingCents:            shipping,
		TotalCents:               total,
		CommissionCents:          commissionCents,
		SellerPayoutCents:        res.SubtotalCents - commissionCents,
		SellerID:                 d.singleSeller(),
		ShippingAddress:          &address,
		Lines:                    d.lines,
	}
	if res.Coupon != nil {
		code := res.Coupon.Code
		order.CouponID = &res.Coupon.ID
		order.CouponCode = &code
	}
	return order
}

func (s *service) persist(ctx context.Context, tx *gorm.DB, order *models.Order, input PlaceOrderInput) (*models.Order, error) {
	ordersRepo := s.ordersRepo.WithTx(tx)
	if err := ordersRepo.Create(ctx, order); err != nil {
		return nil, err
	}

	if order.CouponID != nil {
		if err := s.resolver.RecordUsage(ctx, s.discountsRepo.WithTx(tx), discounts.RecordUsageInput{
			CouponID:      *order.CouponID,
			CustomerID:    input.CustomerID,
			OrderID:       order.ID,
			DiscountCents: order.CouponDiscountCents,
		}); err != nil {
			return nil, err
		}
	}

	if sellerID := order.SellerID; sellerID != nil {
		if _, err := s.escrow.Credit(ctx, tx, []escrow.Credit{{
			SellerID:        *sellerID,
			OrderID:         order.ID,
			GrossCents:      order.SubtotalCents,
			CommissionCents: order.CommissionCents,
		}}); err != nil {
			return nil, err
		}
	} else if _, err := s.splitter.Split(ctx, tx, order); err != nil {
		return nil, err
	}

	if input.CustomerID != nil {
		if _, err := s.cartRepo.WithTx(tx).ClearActive(ctx, *input.CustomerID, order.ID); err != nil {
			return nil, err
		}
	}
	return ordersRepo.FindByID(ctx, order.ID)
}

func normalize(input PlaceOrderInput) PlaceOrderInput {
	out := input
	if out.GuestEmail != nil {
		email := strings.ToLower(strings.TrimSpace(*out.GuestEmail))
		if email == "" {
			out.GuestEmail = nil
		} else {
			out.GuestEmail = &email
		}
	}
	if out.CustomerID != nil && *out.CustomerID == uuid.Nil {
		out.CustomerID = nil
	}
	out.CouponCode = strings.TrimSpace(out.CouponCode)
	out.ShippingAddress = out.ShippingAddress.Normalized()
	return out
}
