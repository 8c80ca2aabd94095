package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/internal/inventory"
	"github.com/angelmondragon/marketcore/internal/notify"
	"github.com/angelmondragon/marketcore/internal/orders"
	"github.com/angelmondragon/marketcore/internal/returns"
	"github.com/angelmondragon/marketcore/pkg/actor"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
	"github.com/angelmondragon/marketcore/pkg/logger"
	"github.com/angelmondragon/marketcore/pkg/validation"
)

// ReplacementProcessor decides replacement requests. Approval ships the line
// again as a zero-total order linked to the original.
type ReplacementProcessor interface {
	Approve(ctx context.Context, input ApproveInput) (*models.ReplacementRequest, error)
	Reject(ctx context.Context, input RejectInput) (*models.ReplacementRequest, error)
}

type replacementProcessor struct {
	tx         txRunner
	requests   returns.Repository
	ordersRepo orders.Repository
	ledger     inventory.Ledger
	events     notify.Sink
	logg       *logger.Logger
	now        func() time.Time
}

// NewReplacementProcessor wires the replacement decision flow.
func NewReplacementProcessor(tx txRunner, requests returns.Repository, ordersRepo orders.Repository, ledger inventory.Ledger, events notify.Sink, logg *logger.Logger) (ReplacementProcessor, error) {
	switch {
	case tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case requests == nil:
		return nil, fmt.Errorf("request repository required")
	case ordersRepo == nil:
		return nil, fmt.Errorf("orders repository required")
	case ledger == nil:
		return nil, fmt.Errorf("inventory ledger required")
	case events == nil:
		return nil, fmt.Errorf("event sink required")
	case logg == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &replacementProcessor{
		tx:         tx,
		requests:   requests,
		ordersRepo: ordersRepo,
		ledger:     ledger,
		events:     events,
		logg:       logg,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Approve creates the replacement order in one transaction: the request is
// approved, stock for the line is reserved and fulfilled, both orders are
// linked and the request completes. Any failure leaves the request pending.
func (p *replacementProcessor) Approve(ctx context.Context, input ApproveInput) (*models.ReplacementRequest, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	reviewer := actor.Resolve(ctx, input.ReviewerID)

	var (
		updated     *models.ReplacementRequest
		replacement *models.Order
	)
	err := p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		requests := p.requests.WithTx(tx)
		current, err := requests.FindReplacement(ctx, input.RequestID)
		if err != nil {
			return err
		}
		now := p.now()
		ok, err := requests.CompareAndSetReplacementStatus(ctx, current.ID, enums.ReplacementRequestStatusPending, enums.ReplacementRequestStatusApproved, map[string]any{
			"reviewer_id": reviewer,
			"reviewed_at": now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return alreadyProcessed(string(current.Status))
		}

		ordersRepo := p.ordersRepo.WithTx(tx)
		original, err := ordersRepo.LockByID(ctx, current.OrderID)
		if err != nil {
			return err
		}
		line := findLine(original, current.OrderLineID)
		if line == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order line no longer exists").
				WithDetails(map[string]any{"order_line_id": current.OrderLineID.String()})
		}

		replacement = replacementOrder(original, line, current.Quantity, now)
		ledger := p.ledger.WithTx(tx)
		key := inventory.KeyFor(line.ProductID, line.VariantID)
		if err := ledger.Reserve(ctx, key, current.Quantity, &replacement.ID); err != nil {
			return err
		}
		if err := ledger.Fulfill(ctx, key, current.Quantity, &replacement.ID); err != nil {
			return err
		}
		if err := ordersRepo.Create(ctx, replacement); err != nil {
			return err
		}
		if err := ordersRepo.Update(ctx, original.ID, map[string]any{"replacement_order_id": replacement.ID}); err != nil {
			return err
		}

		ok, err = requests.CompareAndSetReplacementStatus(ctx, current.ID, enums.ReplacementRequestStatusApproved, enums.ReplacementRequestStatusCompleted, map[string]any{
			"replacement_order_id": replacement.ID,
			"processed_at":         now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "replacement request changed during approval")
		}
		updated, err = requests.FindReplacement(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	ctx = p.logg.WithRequestRecord(p.logg.WithOrderID(ctx, updated.OrderID.String()), string(enums.RequestKindReplacement), updated.ID.String())
	p.logg.Info(p.logg.WithField(ctx, "replacement_order_id", replacement.ID.String()), "replacement approved")
	p.events.Dispatch(ctx,
		notify.ReplacementRequestDecided(updated),
		notify.OrderCreated(replacement, nil),
	)
	return updated, nil
}

func (p *replacementProcessor) Reject(ctx context.Context, input RejectInput) (*models.ReplacementRequest, error) {
	input.Reason = strings.TrimSpace(input.Reason)
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	reviewer := actor.Resolve(ctx, input.ReviewerID)

	current, err := p.requests.FindReplacement(ctx, input.RequestID)
	if err != nil {
		return nil, err
	}
	ok, err := p.requests.CompareAndSetReplacementStatus(ctx, current.ID, enums.ReplacementRequestStatusPending, enums.ReplacementRequestStatusRejected, map[string]any{
		"rejection_reason": input.Reason,
		"reviewer_id":      reviewer,
		"reviewed_at":      p.now(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, alreadyProcessed(string(current.Status))
	}
	updated, err := p.requests.FindReplacement(ctx, current.ID)
	if err != nil {
		return nil, err
	}

	ctx = p.logg.WithRequestRecord(p.logg.WithOrderID(ctx, updated.OrderID.String()), string(enums.RequestKindReplacement), updated.ID.String())
	p.logg.Info(ctx, "replacement request rejected")
	p.events.Dispatch(ctx, notify.ReplacementRequestDecided(updated))
	return updated, nil
}

// replacementOrder builds a paid, zero-total order for qty units of line.
func replacementOrder(original *models.Order, line *models.OrderLine, qty int, now time.Time) *models.Order {
	return &models.Order{
		ID:              uuid.New(),
		UserID:          original.UserID,
		GuestEmail:      original.GuestEmail,
		Status:          enums.OrderStatusPaid,
		Currency:        original.Currency,
		SellerID:        line.SellerID,
		ShippingAddress: original.ShippingAddress,
		OriginalOrderID: &original.ID,
		PaidAt:          &now,
		Lines: []models.OrderLine{{
			ProductID:   line.ProductID,
			VariantID:   line.VariantID,
			SellerID:    line.SellerID,
			CategoryID:  line.CategoryID,
			ProductName: line.ProductName,
			Quantity:    qty,
		}},
	}
}
