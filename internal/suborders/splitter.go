package suborders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/internal/commission"
	"github.com/angelmondragon/marketcore/internal/escrow"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
	"github.com/angelmondragon/marketcore/pkg/logger"
)

// Result is what one split wrote.
type Result struct {
	SubOrders    []models.SubOrder
	Earnings     []models.SellerEarning
	SkippedLines []uuid.UUID
}

// Splitter partitions a multi-seller order into seller-scoped sub-orders.
type Splitter interface {
	Split(ctx context.Context, tx *gorm.DB, order *models.Order) (*Result, error)
}

type splitter struct {
	db     *gorm.DB
	repo   Repository
	escrow escrow.Service
	logg   *logger.Logger
}

// NewSplitter wires the splitter. db is used only when Split is called without a transaction.
func NewSplitter(db *gorm.DB, repo Repository, escrowSvc escrow.Service, logg *logger.Logger) (Splitter, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if repo == nil {
		return nil, fmt.Errorf("sub-order repository required")
	}
	if escrowSvc == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &splitter{db: db, repo: repo, escrow: escrowSvc, logg: logg}, nil
}

type sellerGroup struct {
	sellerID        uuid.UUID
	lines           []models.OrderLine
	lineIDs         []uuid.UUID
	subtotalCents   int64
	commissionCents int64
}

// Split groups the persisted order lines by seller and writes one sub-order
// and one earnings row per seller on tx, or on its own transaction when tx is
// nil. Any failing row fails the whole split.
func (s *splitter) Split(ctx context.Context, tx *gorm.DB, order *models.Order) (*Result, error) {
	if order == nil || order.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "persisted order required")
	}
	groups, skipped, skippedSubtotal := groupBySeller(order.Lines)
	if len(skipped) > 0 {
		s.logg.Warn(s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
			"skipped_lines": len(skipped),
		}), "order lines without a seller were left out of the split")
	}
	if len(groups) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNoValidSellers, "order has no lines with a valid seller")
	}

	var result *Result
	run := func(tx *gorm.DB) error {
		var err error
		result, err = s.write(ctx, tx, order, groups)
		if err != nil {
			return err
		}
		result.SkippedLines = skipped
		return checkTotals(order, result.SubOrders, skippedSubtotal)
	}
	var err error
	if tx != nil {
		err = run(tx)
	} else {
		err = s.db.WithContext(ctx).Transaction(run)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *splitter) write(ctx context.Context, tx *gorm.DB, order *models.Order, groups []*sellerGroup) (*Result, error) {
	repo := s.repo.WithTx(tx)
	subOrders := make([]models.SubOrder, 0, len(groups))
	for _, g := range groups {
		subOrders = append(subOrders, models.SubOrder{
			ID:                uuid.New(),
			OrderID:           order.ID,
			SellerID:          g.sellerID,
			SubtotalCents:     g.subtotalCents,
			CommissionRate:    commission.EffectiveRate(g.commissionCents, g.subtotalCents).InexactFloat64(),
			CommissionCents:   g.commissionCents,
			SellerPayoutCents: g.subtotalCents - g.commissionCents,
			FulfillmentStatus: enums.SubOrderStatusPending,
		})
	}
	if err := repo.CreateMany(ctx, subOrders); err != nil {
		return nil, err
	}

	credits := make([]escrow.Credit, 0, len(groups))
	for i, g := range groups {
		subID := subOrders[i].ID
		if err := repo.AssignLines(ctx, subID, g.lineIDs); err != nil {
			return nil, err
		}
		credits = append(credits, escrow.Credit{
			SellerID:        g.sellerID,
			OrderID:         order.ID,
			SubOrderID:      &subID,
			GrossCents:      g.subtotalCents,
			CommissionCents: g.commissionCents,
		})
	}
	earnings, err := s.escrow.Credit(ctx, tx, credits)
	if err != nil {
		return nil, err
	}
	return &Result{SubOrders: subOrders, Earnings: earnings}, nil
}

// groupBySeller keeps sellers in first-seen line order.
func groupBySeller(lines []models.OrderLine) ([]*sellerGroup, []uuid.UUID, int64) {
	var (
		groups          []*sellerGroup
		index           = map[uuid.UUID]*sellerGroup{}
		skipped         []uuid.UUID
		skippedSubtotal int64
	)
	for _, line := range lines {
		lineSubtotal := line.BaseUnitPriceCents * int64(line.Quantity)
		if line.SellerID == nil || *line.SellerID == uuid.Nil {
			skipped = append(skipped, line.ID)
			skippedSubtotal += lineSubtotal
			continue
		}
		g, ok := index[*line.SellerID]
		if !ok {
			g = &sellerGroup{sellerID: *line.SellerID}
			index[*line.SellerID] = g
			groups = append(groups, g)
		}
		g.lines = append(g.lines, line)
		g.lineIDs = append(g.lineIDs, line.ID)
		g.subtotalCents += lineSubtotal
	}
	for _, g := range groups {
		g.commissionCents = commission.LinesCommission(g.lines)
	}
	return groups, skipped, skippedSubtotal
}

// checkTotals enforces that sub-order subtotals add up to the order's
// pre-discount subtotal, less any lines that had no seller.
func checkTotals(order *models.Order, subOrders []models.SubOrder, skippedSubtotal int64) error {
	var sum int64
	for _, sub := range subOrders {
		sum += sub.SubtotalCents
	}
	expected := order.SubtotalCents - skippedSubtotal
	if sum != expected {
		return pkgerrors.New(pkgerrors.CodeInternal, "sub-order subtotals do not match the order").
			WithDetails(map[string]any{"sum_cents": sum, "expected_cents": expected})
	}
	return nil
}
