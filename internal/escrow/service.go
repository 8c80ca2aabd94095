package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
)

// DefaultHoldingPeriod keeps seller funds in escrow for seven days.
const DefaultHoldingPeriod = 7 * 24 * time.Hour

// Service records what the marketplace owes each seller.
type Service interface {
	Credit(ctx context.Context, tx *gorm.DB, credits []Credit) ([]models.SellerEarning, error)
	DeductRefund(ctx context.Context, tx *gorm.DB, orderID, sellerID uuid.UUID, amountCents int64) (*models.SellerEarning, error)
	ReleaseDue(ctx context.Context) (int64, error)
	VoidOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SellerEarning, error)
}

// Credit is one seller's share of an order.
type Credit struct {
	SellerID        uuid.UUID
	OrderID         uuid.UUID
	SubOrderID      *uuid.UUID
	GrossCents      int64
	CommissionCents int64
}

type service struct {
	repo    Repository
	holding time.Duration
	now     func() time.Time
}

// NewService wires the escrow ledger. A zero holding period selects DefaultHoldingPeriod.
func NewService(repo Repository, holding time.Duration) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("escrow repository required")
	}
	if holding < 0 {
		return nil, fmt.Errorf("holding period must not be negative")
	}
	if holding == 0 {
		holding = DefaultHoldingPeriod
	}
	return &service{
		repo:    repo,
		holding: holding,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Credit inserts one pending earnings row per credit on tx. All rows are
// written or none are.
func (s *service) Credit(ctx context.Context, tx *gorm.DB, credits []Credit) ([]models.SellerEarning, error) {
	now := s.now()
	rows := make([]models.SellerEarning, 0, len(credits))
	for i, credit := range credits {
		if credit.SellerID == uuid.Nil || credit.OrderID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller and order are required").
				WithDetails(map[string]any{"credit": i})
		}
		net := credit.GrossCents - credit.CommissionCents
		if credit.GrossCents < 0 || credit.CommissionCents < 0 || net < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "earnings amounts are inconsistent").
				WithDetails(map[string]any{"credit": i, "gross_cents": credit.GrossCents, "commission_cents": credit.CommissionCents})
		}
		rows = append(rows, models.SellerEarning{
			SellerID:        credit.SellerID,
			OrderID:         credit.OrderID,
			SubOrderID:      credit.SubOrderID,
			GrossCents:      credit.GrossCents,
			CommissionCents: credit.CommissionCents,
			NetCents:        net,
			Status:          enums.EarningStatusPending,
			AvailableOn:     now.Add(s.holding),
		})
	}
	if err := s.repo.WithTx(tx).CreateMany(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) DeductRefund(ctx context.Context, tx *gorm.DB, orderID, sellerID uuid.UUID, amountCents int64) (*models.SellerEarning, error) {
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	repo := s.repo.WithTx(tx)
	row, err := repo.FindByOrderAndSeller(ctx, orderID, sellerID)
	if err != nil {
		return nil, err
	}
	if err := repo.DeductRefund(ctx, row.ID, amountCents); err != nil {
		return nil, err
	}
	return repo.FindByOrderAndSeller(ctx, orderID, sellerID)
}

func (s *service) ReleaseDue(ctx context.Context) (int64, error) {
	return s.repo.ReleaseDue(ctx, s.now())
}

// VoidOrder voids the unreleased earnings of a cancelled order on tx.
func (s *service) VoidOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	if orderID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return s.repo.WithTx(tx).VoidByOrder(ctx, orderID)
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SellerEarning, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return s.repo.ListByOrderID(ctx, orderID)
}
