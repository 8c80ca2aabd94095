package returns

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore/internal/catalog"
	"github.com/angelmondragon/marketcore/internal/orders"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
)

// DefaultWindow is how long after delivery a request may be opened.
const DefaultWindow = 30 * 24 * time.Hour

// Ineligibility codes, checked in this order.
const (
	CodeOrderNotFound          = "ORDER_NOT_FOUND"
	CodeNotOrderOwner          = "NOT_ORDER_OWNER"
	CodeOrderNotDelivered      = "ORDER_NOT_DELIVERED"
	CodeOutsideWindow          = "OUTSIDE_PROCESSING_WINDOW"
	CodeProductNotInOrder      = "PRODUCT_NOT_IN_ORDER"
	CodeNothingToRefund        = "NOTHING_TO_REFUND"
	CodeCategoryNotRefundable  = "CATEGORY_NOT_REFUNDABLE"
	CodeCategoryNotReplaceable = "CATEGORY_NOT_REPLACEABLE"
	CodeFinalSale              = "FINAL_SALE"
	CodeDuplicateRequest       = "DUPLICATE_REQUEST"
)

// EligibilityInput identifies the order line a customer wants to return.
type EligibilityInput struct {
	Kind       enums.RequestKind
	OrderID    uuid.UUID
	ProductID  uuid.UUID
	CustomerID uuid.UUID
}

// Eligibility is the engine's verdict. Ineligible results carry a stable
// Code plus the context a caller needs to explain it.
type Eligibility struct {
	Eligible           bool
	Code               string
	Message            string
	DaysRemaining      int
	ExistingRequestID  *uuid.UUID
	Order              *models.Order
	Line               *models.OrderLine
	RefundAmountCents  int64
	ShippingShareCents int64
}

// Err converts an ineligible verdict into a typed error.
func (e *Eligibility) Err() error {
	if e == nil || e.Eligible {
		return nil
	}
	details := map[string]any{"code": e.Code, "message": e.Message}
	if e.Code == CodeOutsideWindow || e.DaysRemaining > 0 {
		details["days_remaining"] = e.DaysRemaining
	}
	if e.ExistingRequestID != nil {
		details["existing_request_id"] = e.ExistingRequestID.String()
	}
	code := pkgerrors.CodeNotEligible
	if e.Code == CodeDuplicateRequest {
		code = pkgerrors.CodeDuplicateRequest
	}
	return pkgerrors.New(code, e.Message).WithDetails(details)
}

// Engine decides whether an order line may be refunded or replaced.
type Engine interface {
	Evaluate(ctx context.Context, input EligibilityInput) (*Eligibility, error)
}

type engine struct {
	orders  orders.Repository
	catalog catalog.Repository
	repo    Repository
	window  time.Duration
	now     func() time.Time
}

// NewEngine builds the eligibility engine. A zero window selects DefaultWindow.
func NewEngine(ordersRepo orders.Repository, catalogRepo catalog.Repository, repo Repository, window time.Duration) (Engine, error) {
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if repo == nil {
		return nil, fmt.Errorf("request repository required")
	}
	if window < 0 {
		return nil, fmt.Errorf("processing window must not be negative")
	}
	if window == 0 {
		window = DefaultWindow
	}
	return &engine{
		orders:  ordersRepo,
		catalog: catalogRepo,
		repo:    repo,
		window:  window,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Evaluate runs the checks in order and stops at the first failure. Errors
// are reserved for bad input and store failures.
func (e *engine) Evaluate(ctx context.Context, input EligibilityInput) (*Eligibility, error) {
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown request kind").
			WithDetails(map[string]any{"kind": string(input.Kind)})
	}
	if input.OrderID == uuid.Nil || input.ProductID == uuid.Nil || input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order, product and customer ids are required")
	}

	order, err := e.orders.FindByID(ctx, input.OrderID)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return deny(CodeOrderNotFound, "order does not exist"), nil
		}
		return nil, err
	}
	if order.UserID == nil || *order.UserID != input.CustomerID {
		return deny(CodeNotOrderOwner, "order belongs to another customer"), nil
	}
	if !deliveredStatus(order.Status) || order.DeliveredAt == nil {
		return deny(CodeOrderNotDelivered, fmt.Sprintf("order is %s, not delivered", order.Status)), nil
	}

	deadline := order.DeliveredAt.Add(e.window)
	now := e.now()
	if now.After(deadline) {
		v := deny(CodeOutsideWindow, fmt.Sprintf("requests close %d days after delivery", int(e.window.Hours()/24)))
		v.Order = order
		return v, nil
	}
	daysRemaining := int(math.Ceil(deadline.Sub(now).Hours() / 24))

	line := findLine(order, input.ProductID)
	if line == nil {
		v := deny(CodeProductNotInOrder, "product is not part of this order")
		v.Order, v.DaysRemaining = order, daysRemaining
		return v, nil
	}

	verdict := &Eligibility{Order: order, Line: line, DaysRemaining: daysRemaining}
	// Replacement orders were never charged; a faulty replacement may only be replaced again.
	if input.Kind == enums.RequestKindRefund && (order.OriginalOrderID != nil || order.TotalCents == 0) {
		verdict.Code, verdict.Message = CodeNothingToRefund, "order was not paid for and cannot be refunded"
		return verdict, nil
	}
	if code, msg, err := e.checkPolicy(ctx, input.Kind, line); err != nil {
		return nil, err
	} else if code != "" {
		verdict.Code, verdict.Message = code, msg
		return verdict, nil
	}

	existing, err := e.openRequest(ctx, input.Kind, order.ID, input.ProductID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		verdict.Code = CodeDuplicateRequest
		verdict.Message = fmt.Sprintf("a %s request already exists for this product", input.Kind)
		verdict.ExistingRequestID = existing
		return verdict, nil
	}

	verdict.Eligible = true
	if input.Kind == enums.RequestKindRefund {
		verdict.ShippingShareCents = ShippingShare(order.ShippingCents, line.Quantity, order.TotalQuantity())
		verdict.RefundAmountCents = line.LineTotalCents() + verdict.ShippingShareCents
	}
	return verdict, nil
}

// checkPolicy applies the category flags and the product's final-sale flag.
// Catalog rows that no longer exist impose no restriction.
func (e *engine) checkPolicy(ctx context.Context, kind enums.RequestKind, line *models.OrderLine) (string, string, error) {
	if line.CategoryID != nil {
		category, err := e.catalog.FindCategory(ctx, *line.CategoryID)
		switch {
		case err != nil && !pkgerrors.Is(err, pkgerrors.CodeNotFound):
			return "", "", err
		case err == nil && kind == enums.RequestKindRefund && !category.IsRefundable:
			return CodeCategoryNotRefundable, fmt.Sprintf("%s items cannot be refunded", category.Name), nil
		case err == nil && kind == enums.RequestKindReplacement && !category.IsReplaceable:
			return CodeCategoryNotReplaceable, fmt.Sprintf("%s items cannot be replaced", category.Name), nil
		}
	}
	product, err := e.catalog.FindProduct(ctx, line.ProductID)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return "", "", nil
		}
		return "", "", err
	}
	if product.IsFinalSale {
		return CodeFinalSale, "final sale items cannot be returned", nil
	}
	return "", "", nil
}

func (e *engine) openRequest(ctx context.Context, kind enums.RequestKind, orderID, productID uuid.UUID) (*uuid.UUID, error) {
	if kind == enums.RequestKindRefund {
		req, err := e.repo.FindOpenRefund(ctx, orderID, productID)
		if err != nil || req == nil {
			return nil, err
		}
		return &req.ID, nil
	}
	req, err := e.repo.FindOpenReplacement(ctx, orderID, productID)
	if err != nil || req == nil {
		return nil, err
	}
	return &req.ID, nil
}

// ShippingShare apportions shipping by quantity, rounding half away from zero.
func ShippingShare(shippingCents int64, lineQty, totalQty int) int64 {
	if shippingCents <= 0 || lineQty <= 0 || totalQty <= 0 {
		return 0
	}
	return decimal.NewFromInt(shippingCents).
		Mul(decimal.NewFromInt(int64(lineQty))).
		Div(decimal.NewFromInt(int64(totalQty))).
		Round(0).
		IntPart()
}

func deliveredStatus(status enums.OrderStatus) bool {
	return status == enums.OrderStatusDelivered || status == enums.OrderStatusPartiallyRefunded
}

func findLine(order *models.Order, productID uuid.UUID) *models.OrderLine {
	for i := range order.Lines {
		if order.Lines[i].ProductID == productID {
			return &order.Lines[i]
		}
	}
	return nil
}

func deny(code, message string) *Eligibility {
	return &Eligibility{Code: code, Message: message}
}
