package commission

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
	"github.com/angelmondragon/marketcore/pkg/validation"
)

// DefaultRate applies when no seller, category or global rate is active.
var DefaultRate = decimal.NewFromInt(10)

var (
	minRate = decimal.Zero
	maxRate = decimal.NewFromInt(100)
	hundred = decimal.NewFromInt(100)
)

// Calculator resolves marketplace commission rates and manages their configuration.
type Calculator interface {
	ResolveRate(ctx context.Context, sellerID, categoryID *uuid.UUID) (decimal.Decimal, error)
	SetRate(ctx context.Context, input SetRateInput) (*models.CommissionRate, error)
	DeactivateRate(ctx context.Context, id uuid.UUID) error
}

// SetRateInput configures the rate for one scope. ReferenceID is required for
// seller and category scopes and must be empty for the global scope.
type SetRateInput struct {
	Scope       enums.CommissionScope `json:"scope" validate:"required,oneof=global category seller"`
	ReferenceID *uuid.UUID            `json:"reference_id"`
	Percentage  decimal.Decimal       `json:"percentage"`
}

type calculator struct {
	db          *gorm.DB
	repo        Repository
	defaultRate decimal.Decimal
}

// NewCalculator wires the calculator. A negative defaultRate selects DefaultRate.
func NewCalculator(db *gorm.DB, repo Repository, defaultRate float64) (Calculator, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if repo == nil {
		return nil, fmt.Errorf("commission repository required")
	}
	rate := DefaultRate
	if defaultRate >= 0 {
		rate = decimal.NewFromFloat(defaultRate)
	}
	if err := ValidateRate(rate); err != nil {
		return nil, err
	}
	return &calculator{db: db, repo: repo, defaultRate: rate}, nil
}

func (c *calculator) ResolveRate(ctx context.Context, sellerID, categoryID *uuid.UUID) (decimal.Decimal, error) {
	candidates := []struct {
		scope enums.CommissionScope
		ref   *uuid.UUID
	}{
		{enums.CommissionScopeSeller, nonNil(sellerID)},
		{enums.CommissionScopeCategory, nonNil(categoryID)},
		{enums.CommissionScopeGlobal, nil},
	}
	for _, candidate := range candidates {
		if candidate.scope != enums.CommissionScopeGlobal && candidate.ref == nil {
			continue
		}
		rate, err := c.repo.FindActive(ctx, candidate.scope, candidate.ref)
		if err != nil {
			return decimal.Zero, err
		}
		if rate != nil {
			return rate.Percentage, nil
		}
	}
	return c.defaultRate, nil
}

// SetRate replaces the active rate of a scope with a new row.
func (c *calculator) SetRate(ctx context.Context, input SetRateInput) (*models.CommissionRate, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if err := ValidateRate(input.Percentage); err != nil {
		return nil, err
	}
	ref := nonNil(input.ReferenceID)
	switch {
	case input.Scope == enums.CommissionScopeGlobal && ref != nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "global rate cannot reference a seller or category")
	case input.Scope != enums.CommissionScopeGlobal && ref == nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference_id is required for scoped rates")
	}

	rate := &models.CommissionRate{
		Scope:       input.Scope,
		ReferenceID: ref,
		Percentage:  input.Percentage.Round(2),
		Active:      true,
	}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := c.repo.WithTx(tx)
		if err := repo.DeactivateScope(ctx, input.Scope, ref); err != nil {
			return err
		}
		return repo.Create(ctx, rate)
	})
	if err != nil {
		return nil, err
	}
	return rate, nil
}

func (c *calculator) DeactivateRate(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "rate id is required")
	}
	return c.repo.Deactivate(ctx, id)
}

// ValidateRate rejects percentages outside [0, 100].
func ValidateRate(rate decimal.Decimal) error {
	if rate.LessThan(minRate) || rate.GreaterThan(maxRate) {
		return pkgerrors.New(pkgerrors.CodeInvalidRate, "commission rate must be between 0 and 100").
			WithDetails(map[string]any{"rate": rate.String()})
	}
	return nil
}

// CalculateCommission returns round(amount * rate / 100), rounding half away from zero.
func CalculateCommission(amountCents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amountCents).Mul(rate).Div(hundred).Round(0).IntPart()
}

// Split returns the marketplace commission and the seller payout for amount.
func Split(amountCents int64, rate decimal.Decimal) (commissionCents, payoutCents int64) {
	commissionCents = CalculateCommission(amountCents, rate)
	return commissionCents, amountCents - commissionCents
}

// LinesCommission charges lines sharing a rate on their combined base
// subtotal, so one seller's commission equals Split over that seller's
// subtotal rather than a sum of per-line roundings. Pass the lines of a
// single seller.
func LinesCommission(lines []models.OrderLine) int64 {
	var (
		keys      []string
		rates     = map[string]decimal.Decimal{}
		subtotals = map[string]int64{}
	)
	for _, line := range lines {
		rate := decimal.NewFromFloat(line.CommissionRate)
		key := rate.String()
		if _, ok := rates[key]; !ok {
			rates[key] = rate
			keys = append(keys, key)
		}
		subtotals[key] += line.BaseUnitPriceCents * int64(line.Quantity)
	}
	var total int64
	for _, key := range keys {
		total += CalculateCommission(subtotals[key], rates[key])
	}
	return total
}

// EffectiveRate expresses commission as a percentage of amount, to two places.
func EffectiveRate(commissionCents, amountCents int64) decimal.Decimal {
	if amountCents == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(commissionCents).Mul(hundred).Div(decimal.NewFromInt(amountCents)).Round(2)
}

func nonNil(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
